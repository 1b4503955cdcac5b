package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"esicmap/internal/adapter/fs"
	"esicmap/internal/port"
	"esicmap/internal/usecase"
	"esicmap/internal/vector"
)

var loadConcurrency int

var loadESICCmd = &cobra.Command{
	Use:   "loadesic [path]",
	Short: "Load and embed the ESIC workbook",
	Long: `Read the ESIC workbook, embed every category title with each configured model
and store the records. Records are upserted by code.

A directory may be given instead of a file; it must hold exactly one workbook
whose name contains "esic".

Examples:
  esicmap loadesic
  esicmap loadesic data/esic_data.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), args, true, false)
	},
}

var loadISICCmd = &cobra.Command{
	Use:   "loadisic [path]",
	Short: "Load and embed the ISIC workbook",
	Long: `Read the ISIC workbook, embed every entry with each configured model and
replace the stored ISIC catalogue. Exclusion notes are subtracted from the
description-with-notes embedding.

Examples:
  esicmap loadisic
  esicmap loadisic data/isic_data_r5.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), args, false, true)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load and embed both workbooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), nil, true, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{loadESICCmd, loadISICCmd, loadCmd} {
		c.Flags().IntVar(&loadConcurrency, "concurrency", 0, "records embedded in parallel (default from config)")
		rootCmd.AddCommand(c)
	}
}

func runLoad(ctx context.Context, args []string, esic, isic bool) error {
	st, err := openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	return loadWith(ctx, st, args, esic, isic)
}

func loadWith(ctx context.Context, st port.RecordStore, args []string, esic, isic bool) error {
	cfg := GetConfig()
	concurrency := cfg.Embedding.Concurrency
	if loadConcurrency > 0 {
		concurrency = loadConcurrency
	}

	builder := vector.NewBuilder(newEmbedder(cfg), cfg.Embedding.Models, cfg.Embedding.Dimension)
	walker := fs.NewWalker(cfg.Data.Includes, cfg.Data.Excludes)
	ingestUC := usecase.NewIngestUseCase(st, builder, walker, concurrency, GetLogger())

	fmt.Printf("Embedding models: %v (dimension %d, concurrency %d)\n", cfg.Embedding.Models, cfg.Embedding.Dimension, concurrency)

	if esic {
		path := dataPath(cfg.Data.ESICPath)
		if len(args) > 0 {
			path = dataPath(args[0])
		}
		fmt.Printf("Loading ESIC from %s...\n", path)
		result, err := ingestUC.LoadESIC(ctx, path, newProgress("Embedding ESIC"))
		if err != nil {
			return fmt.Errorf("ESIC load failed: %w", err)
		}
		printIngest("ESIC", result)
	}

	if isic {
		path := dataPath(cfg.Data.ISICPath)
		if len(args) > 0 {
			path = dataPath(args[0])
		}
		fmt.Printf("Loading ISIC from %s...\n", path)
		result, err := ingestUC.LoadISIC(ctx, path, newProgress("Embedding ISIC"))
		if err != nil {
			return fmt.Errorf("ISIC load failed: %w", err)
		}
		printIngest("ISIC", result)
	}

	return nil
}

func printIngest(name string, r *usecase.IngestResult) {
	fmt.Printf("\n%s load complete:\n", name)
	fmt.Printf("  Workbook:    %s\n", r.Path)
	fmt.Printf("  Rows read:   %d\n", r.Rows)
	fmt.Printf("  Stored:      %d\n", r.Stored)
	if r.Empty > 0 {
		fmt.Printf("  Empty rows:  %d\n", r.Empty)
	}
	if r.Duplicates > 0 {
		fmt.Printf("  Duplicates:  %d (skipped)\n", r.Duplicates)
	}
	if r.BadLevel > 0 {
		fmt.Printf("  Bad levels:  %d (stored as level 0)\n", r.BadLevel)
	}
	if r.Adjusted > 0 {
		fmt.Printf("  Exclusions:  %d subtracted from full-span vectors\n", r.Adjusted)
	}

	if len(r.Fallbacks) > 0 {
		models := make([]string, 0, len(r.Fallbacks))
		for m := range r.Fallbacks {
			models = append(models, m)
		}
		sort.Strings(models)
		fmt.Printf("\nWarnings:\n")
		for _, m := range models {
			fmt.Printf("  - %s: %d records stored with zero vectors\n", m, r.Fallbacks[m])
		}
	}
}
