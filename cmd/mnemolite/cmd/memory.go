package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/memory"
	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
	"github.com/mnemolite/mnemolite/internal/store"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store and retrieve memories",
	}
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryListCmd())
	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryGetCmd())
	cmd.AddCommand(newMemoryDeleteCmd())
	return cmd
}

func newMemoryAddCmd() *cobra.Command {
	var (
		tags       []string
		memoryType string
		project    string
		title      string
	)

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Save a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				meta := map[string]any{
					store.MetaSource:     "manual",
					store.MetaMemoryType: "note",
				}
				if memoryType != "" {
					meta[store.MetaMemoryType] = memoryType
				}
				if len(tags) > 0 {
					meta[store.MetaTags] = tags
				}
				if title != "" {
					meta[store.MetaTitle] = title
				}
				if project != "" {
					slug, err := svc.Memories().ResolveProject(ctx, project)
					if err != nil {
						return err
					}
					meta[store.MetaProject] = slug
				}

				id, err := svc.Memories().InsertEvent(ctx, memory.WriteRequest{
					Content:  map[string]any{"text": args[0]},
					Metadata: meta,
				})
				if err != nil {
					return err
				}
				out.Successf("Saved memory %s", id)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Tags (repeatable or comma-separated)")
	cmd.Flags().StringVar(&memoryType, "type", "", "Memory type (note, decision, conversation, ...)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project path; resolved to a slug")
	cmd.Flags().StringVar(&title, "title", "", "Explicit title (default: first line of text)")
	return cmd
}

func newMemoryListCmd() *cobra.Command {
	var (
		limit      int
		cursor     string
		project    string
		memoryType string
		tags       []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent memories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.EventFilter{
				MemoryType: memoryType,
				Project:    project,
				Tags:       tags,
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				memories, next, err := svc.Memories().ListRecent(ctx, filter, limit, cursor)
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(cmd, struct {
						Memories   []*memory.Memory `json:"memories"`
						NextCursor string           `json:"next_cursor,omitempty"`
					}{memories, next})
				}
				out := output.New(cmd.OutOrStdout())
				printMemories(out, memories)
				if next != "" {
					out.Statusf("", "more: --cursor %s", next)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum memories per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from a previous page")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Filter by project slug")
	cmd.Flags().StringVar(&memoryType, "type", "", "Filter by memory type")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Filter by tags (all must match)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var (
		limit      int
		project    string
		memoryType string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories with hybrid retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.EventFilter{
				MemoryType: memoryType,
				Project:    project,
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				memories, resp, err := svc.Memories().SearchMemories(ctx, args[0], filter, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(cmd, struct {
						Memories []*memory.Memory `json:"memories"`
						Degraded bool             `json:"degraded"`
						Partial  bool             `json:"partial"`
					}{memories, resp.Degraded, resp.Partial})
				}
				out := output.New(cmd.OutOrStdout())
				if resp.Degraded {
					out.Warningf("Degraded result: lexical=%s vector=%s", resp.Lexical.State, resp.Vector.State)
				}
				printMemories(out, memories)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Filter by project slug")
	cmd.Flags().StringVar(&memoryType, "type", "", "Filter by memory type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newMemoryGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one memory in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				m, err := svc.Memories().GetByID(ctx, id)
				if err != nil {
					return err
				}
				return encodeJSON(cmd, m)
			})
		},
	}
	return cmd
}

func newMemoryDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				if err := svc.Memories().SoftDelete(ctx, id); err != nil {
					return err
				}
				out.Successf("Deleted memory %s", id)
				return nil
			})
		},
	}
	return cmd
}

func printMemories(out *output.Writer, memories []*memory.Memory) {
	if len(memories) == 0 {
		out.Status("", "No memories")
		return
	}
	for _, m := range memories {
		line := m.Title
		if m.MemoryType != "" {
			line += " [" + m.MemoryType + "]"
		}
		if len(m.Tags) > 0 {
			line += " #" + strings.Join(m.Tags, " #")
		}
		out.Statusf("", "%s  %s", m.ID, line)
		if m.Preview != "" && m.Preview != m.Title {
			out.Statusf("", "    %s", m.Preview)
		}
	}
}

func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
