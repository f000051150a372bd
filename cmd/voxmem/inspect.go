package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxmem/internal/app"
	"github.com/MrWong99/voxmem/internal/config"
	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/memory/file"
)

func searchCmd(flags *globalFlags) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the remembered turns closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := newLogger(config.LogWarn)
			if k < 1 {
				k = cfg.Dialogue.TopK
			}

			store, err := openStore(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			recs, err := store.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no memories yet")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDINAL\tROLE\tDISTANCE\tCONTENT")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", r.Ordinal, r.Role, r.Distance, r.Content)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of turns to return (default: dialogue.top_k)")
	return cmd
}

func statsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report the size and state of the memory store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			// The file backend can be inspected without reaching the
			// embeddings provider.
			if cfg.Memory.Backend == config.MemoryFile {
				info, err := file.Inspect(file.Paths{IndexPath: cfg.Memory.IndexPath, LogPath: cfg.Memory.LogPath}, cfg.Memory.Dimensions)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "backend:   file\nindex:     %s\nlog:       %s\nexists:    %t\nrecords:   %d\ndimension: %d\n",
					cfg.Memory.IndexPath, cfg.Memory.LogPath, info.Exists, info.Records, info.Dimension)
				return nil
			}

			store, err := openStore(cmd, cfg, newLogger(config.LogWarn))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "backend:   %s\nrecords:   %d\ndimension: %d\n", cfg.Memory.Backend, st.Records, st.Dimension)
			return nil
		},
	}
}

// openStore opens the configured memory store with only the embeddings
// provider built.
func openStore(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (memory.Store, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg, app.Console{In: os.Stdin, Out: cmd.OutOrStdout()})
	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	return app.OpenStore(cmd.Context(), cfg.Memory, emb, logger)
}
