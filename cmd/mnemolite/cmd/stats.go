package cmd

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
	"github.com/mnemolite/mnemolite/internal/store"
)

type statsOptions struct {
	showErrors bool
	errorKind  string
	errorLimit int
	asJSON     bool
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats <repository>",
		Short: "Show index and graph statistics for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.showErrors, "errors", false, "Also list recorded indexing errors")
	cmd.Flags().StringVar(&opts.errorKind, "error-kind", "", "Filter errors by kind (parse, encoding, chunking, embedding, persistence)")
	cmd.Flags().IntVar(&opts.errorLimit, "error-limit", 20, "Maximum errors to list")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Emit JSON")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, repo string, opts statsOptions) error {
	return withService(ctx, func(ctx context.Context, svc *service.Service) error {
		stats, err := svc.GraphStats(ctx, repo)
		if err != nil {
			return err
		}

		var errs []*store.IndexingError
		if opts.showErrors {
			errs, err = svc.IndexingErrors(ctx, repo, store.ErrorKind(opts.errorKind), opts.errorLimit)
			if err != nil {
				return err
			}
		}

		if opts.asJSON {
			return encodeJSON(cmd, struct {
				Stats  *store.GraphStats      `json:"stats"`
				Errors []*store.IndexingError `json:"errors,omitempty"`
			}{stats, errs})
		}

		out := output.New(cmd.OutOrStdout())
		out.Statusf("", "repository: %s", stats.Repository)
		out.Statusf("", "chunks:     %d", stats.Chunks)
		out.Statusf("", "nodes:      %d", stats.Nodes)
		out.Statusf("", "edges:      %d", stats.Edges)
		for _, kind := range sortedEdgeKinds(stats.EdgeKinds) {
			out.Statusf("", "  %-12s %d", kind, stats.EdgeKinds[kind])
		}
		if stats.Errors > 0 {
			out.Warningf("%d indexing errors recorded", stats.Errors)
		}

		if opts.showErrors {
			out.Newline()
			if len(errs) == 0 {
				out.Status("", "No recorded errors")
			}
			for _, e := range errs {
				out.Statusf("", "%s  %s (%s): %s",
					e.OccurredAt.Format("2006-01-02 15:04"), e.FilePath, e.Kind, e.Message)
			}
		}
		return nil
	})
}

func sortedEdgeKinds(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
