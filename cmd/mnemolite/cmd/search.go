package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/search"
	"github.com/mnemolite/mnemolite/internal/service"
	"github.com/mnemolite/mnemolite/internal/store"
)

type searchOptions struct {
	repository string
	language   string
	chunkType  string
	limit      int
	format     string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed code with hybrid retrieval",
		Long: `Search fuses a lexical channel and a vector channel with reciprocal
rank fusion. When one channel is down the result is served degraded
from the other.

Examples:
  mnemolite search "retry with backoff"
  mnemolite search "parse config" --repo api --language go --limit 5
  mnemolite search "auth middleware" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.repository, "repo", "r", "", "Restrict to one repository")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Restrict to one language")
	cmd.Flags().StringVarP(&opts.chunkType, "type", "t", "", "Restrict to a chunk type (function, method, class, type)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format (text or json)")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	filter := store.ChunkFilter{
		Repository: opts.repository,
		Language:   opts.language,
		ChunkType:  store.ChunkType(opts.chunkType),
	}

	return withService(ctx, func(ctx context.Context, svc *service.Service) error {
		hits, resp, err := svc.SearchCode(ctx, query, filter, opts.limit)
		if err != nil {
			return err
		}
		if opts.format == "json" {
			return printSearchJSON(cmd, hits, resp)
		}
		printSearchText(output.New(cmd.OutOrStdout()), hits, resp)
		return nil
	})
}

type searchResult struct {
	ID         string   `json:"id"`
	Repository string   `json:"repository"`
	FilePath   string   `json:"file_path"`
	Language   string   `json:"language"`
	ChunkType  string   `json:"chunk_type"`
	NamePath   []string `json:"name_path,omitempty"`
	LineStart  int      `json:"line_start"`
	LineEnd    int      `json:"line_end"`
	Score      float64  `json:"score"`
	Content    string   `json:"content"`
}

func printSearchJSON(cmd *cobra.Command, hits []service.CodeHit, resp *search.Response) error {
	results := make([]searchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, searchResult{
			ID:         h.Chunk.ID,
			Repository: h.Chunk.Repository,
			FilePath:   h.Chunk.FilePath,
			Language:   h.Chunk.Language,
			ChunkType:  string(h.Chunk.ChunkType),
			NamePath:   h.Chunk.NamePath,
			LineStart:  h.Chunk.LineStart,
			LineEnd:    h.Chunk.LineEnd,
			Score:      h.Score,
			Content:    h.Chunk.Content,
		})
	}
	payload := struct {
		Results  []searchResult `json:"results"`
		Degraded bool           `json:"degraded"`
		Partial  bool           `json:"partial"`
	}{results, resp.Degraded, resp.Partial}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printSearchText(out *output.Writer, hits []service.CodeHit, resp *search.Response) {
	if resp.Degraded {
		out.Warningf("Degraded result: lexical=%s vector=%s", resp.Lexical.State, resp.Vector.State)
	}
	if resp.Partial {
		out.Warning("Partial result: a channel missed the deadline")
	}
	if len(hits) == 0 {
		out.Status("", "No results")
		return
	}
	for i, h := range hits {
		name := h.Chunk.FilePath
		if len(h.Chunk.NamePath) > 0 {
			name = fmt.Sprintf("%s:%s", h.Chunk.FilePath, strings.Join(h.Chunk.NamePath, "."))
		}
		out.Statusf("", "%d. %s (%s %s, lines %d-%d, score %.4f)",
			i+1, name, h.Chunk.Language, h.Chunk.ChunkType,
			h.Chunk.LineStart, h.Chunk.LineEnd, h.Score)
		out.Code(snippet(h.Chunk.Content, 8))
	}
}

// snippet returns the first n lines of content.
func snippet(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
