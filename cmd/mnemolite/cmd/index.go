package cmd

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/indexer"
	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
)

type indexOptions struct {
	repository string
	excludes   []string
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a source repository into the code graph",
		Long: `Index walks a repository, chunks its source files, embeds the chunks
on both channels, and persists chunks, symbols, and relations.

Re-running is incremental: unchanged chunks are detected by fingerprint
and neither re-embedded nor re-written.

Examples:
  mnemolite index .
  mnemolite index ~/src/api --repo api --exclude "docs/**"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return runIndex(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.repository, "repo", "r", "", "Repository name (default: directory basename)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "x", nil, "Exclude pattern (repeatable)")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root string, opts indexOptions) error {
	repo := opts.repository
	if repo == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		repo = strings.ToLower(filepath.Base(abs))
	}
	out := output.New(cmd.OutOrStdout())

	return withService(ctx, func(ctx context.Context, svc *service.Service) error {
		out.Statusf("⏳", "Indexing %s as %q...", root, repo)

		summary, err := svc.IndexRepository(ctx, indexer.Request{
			Repository: repo,
			Root:       root,
			Excludes:   opts.excludes,
		})
		if err != nil {
			return err
		}

		out.Successf("Indexed %d of %d files: %d chunks, %d nodes, %d edges (%s)",
			summary.Indexed, summary.Files, summary.Chunks, summary.Nodes, summary.Edges,
			summary.Duration.Round(time.Millisecond))
		if summary.Unchanged > 0 {
			out.Statusf("", "%d files unchanged", summary.Unchanged)
		}
		for _, reason := range sortedKeys(summary.Skipped) {
			out.Statusf("", "skipped %d (%s)", summary.Skipped[reason], reason)
		}
		for kind, n := range summary.Errors {
			out.Warningf("%d files failed (%s); see 'mnemolite stats %s --errors'", n, kind, repo)
		}
		if summary.Cancelled {
			out.Warning("Run was cancelled; the index may be incomplete")
		}
		return nil
	})
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
