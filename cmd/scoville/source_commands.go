package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scoville/internal/store"
)

func newSourceCommand(ctx *commandContext) *cobra.Command {
	sourceCmd := &cobra.Command{
		Use:   "source",
		Short: "Manage configured sources",
	}
	sourceCmd.AddCommand(newSourceAddCommand(ctx))
	sourceCmd.AddCommand(newSourceListCommand(ctx))
	return sourceCmd
}

// openStore opens the shared SQLite database for direct CLI access. Reads
// and inserts are safe alongside a running daemon under WAL.
func openStore(ctx *commandContext) (*store.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

func newSourceAddCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <kind> <spec>",
		Short: "Add a source (kind: rss, youtube_channel, youtube_search)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			kind := store.SourceKind(args[0])
			spec := args[1]
			if name == "" {
				name = spec
			}
			src, err := st.AddSource(cmd.Context(), kind, name, spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s source %s (%s)\n", src.Kind, src.ID, src.Spec)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the source (defaults to the url or query)")
	return cmd
}

func newSourceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			srcs, err := st.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			if len(srcs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sources configured")
				return nil
			}

			rows := make([][]string, 0, len(srcs))
			for _, src := range srcs {
				rows = append(rows, []string{
					src.ID,
					string(src.Kind),
					src.Name,
					src.Spec,
					src.CreatedAt.Format("2006-01-02"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]tableColumn{
				textColumn("ID"),
				textColumn("Kind"),
				textColumn("Name"),
				textColumn("Spec"),
				textColumn("Added"),
			}, rows))
			return nil
		},
	}
}
