package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"esicmap/config"
	"esicmap/internal/domain"
	"esicmap/internal/port"
	"esicmap/internal/usecase"
	"esicmap/internal/vector"
)

// matchFlags select the stored vectors and candidates. Zero values fall
// back to the configuration.
type matchFlags struct {
	mode    string
	model   string
	span    string
	k       int
	level   int
	section string
}

var (
	match      matchFlags
	mapNoStore bool
	mapPreview int
	exportOut  string
)

func addMatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&match.mode, "mode", "", "similarity metric: cosine, dotProduct or distance (default from config)")
	cmd.Flags().StringVar(&match.model, "model", "", "embedding model (default from config)")
	cmd.Flags().StringVar(&match.span, "span", "", "description or description-with-notes (default from config)")
	cmd.Flags().IntVarP(&match.k, "top-k", "k", 0, "matches per ESIC category (default from config)")
	cmd.Flags().IntVar(&match.level, "level", -1, "ISIC level to match against, 0 for all (default from config)")
	cmd.Flags().StringVar(&match.section, "section", "", "restrict to one ISIC section label")
}

// options merges the flags over cfg. Unknown names are logged and fall back.
func (f matchFlags) options(cfg *config.Config) usecase.MapOptions {
	opts := usecase.MapOptions{
		Mode:   cfg.MatchMode(),
		Model:  cfg.Embedding.DefaultModel,
		Span:   cfg.TextSpan(),
		K:      cfg.Search.KTop,
		Filter: domain.Filter{Level: cfg.Search.Level, Section: cfg.Search.Section},
	}
	if f.mode != "" {
		mode, err := vector.ParseSimilarityMode(f.mode)
		if err != nil {
			GetLogger().Warn("%v, using %s", err, mode)
		}
		opts.Mode = mode
	}
	if f.model != "" {
		opts.Model = f.model
	}
	if f.span != "" {
		span, err := vector.ParseTextSpan(f.span)
		if err != nil {
			GetLogger().Warn("%v, using %s", err, span)
		}
		opts.Span = span
	}
	if f.k > 0 {
		opts.K = f.k
	}
	if f.level >= 0 {
		opts.Filter.Level = f.level
	}
	if f.section != "" {
		opts.Filter.Section = f.section
	}
	return opts
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Rank ISIC classes for every stored ESIC category",
	Long: `Rank ISIC candidates for each stored ESIC category using the vectors stored
for the chosen model, metric and text span. Results replace those previously
stored for the same embedding variant.

Examples:
  esicmap map
  esicmap map --mode dotProduct --span description-with-notes -k 3
  esicmap map --section Agriculture --no-store`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()
		_, err = mapWith(cmd.Context(), st, match.options(GetConfig()), !mapNoStore)
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored mapping results to a workbook",
	Long: `Write the results stored for one embedding variant to
<output_dir>/<variant>_mapping_results.xlsx.

Examples:
  esicmap export
  esicmap export --mode distance --out reports`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()
		return exportWith(cmd.Context(), st, match.options(GetConfig()).Key())
	},
}

var loadMapCmd = &cobra.Command{
	Use:   "loadmap",
	Short: "Load both workbooks, map and export",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(true)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := loadWith(ctx, st, nil, true, true); err != nil {
			return err
		}
		opts := match.options(GetConfig())
		if _, err := mapWith(ctx, st, opts, true); err != nil {
			return err
		}
		return exportWith(ctx, st, opts.Key())
	},
}

func init() {
	for _, c := range []*cobra.Command{mapCmd, exportCmd, loadMapCmd} {
		addMatchFlags(c)
		rootCmd.AddCommand(c)
	}
	mapCmd.Flags().BoolVar(&mapNoStore, "no-store", false, "rank without replacing stored results")
	for _, c := range []*cobra.Command{mapCmd, loadMapCmd} {
		c.Flags().IntVar(&mapPreview, "preview", 5, "mappings to print after the run")
	}
	for _, c := range []*cobra.Command{exportCmd, loadMapCmd} {
		c.Flags().StringVarP(&exportOut, "out", "o", "", "output directory (default from config)")
	}
}

func mapWith(ctx context.Context, st port.RecordStore, opts usecase.MapOptions, persist bool) (*usecase.MapResult, error) {
	opts.Persist = persist
	mapUC := usecase.NewMappingUseCase(st, GetLogger())

	fmt.Printf("Mapping with %s (%s, top %d, level %d", opts.Key(), opts.Mode, opts.K, opts.Filter.Level)
	if opts.Filter.Section != "" {
		fmt.Printf(", section %q", opts.Filter.Section)
	}
	fmt.Println(")...")

	result, err := mapUC.Map(ctx, opts, newProgress("Mapping"))
	if err != nil {
		return nil, fmt.Errorf("mapping failed: %w", err)
	}

	for i, r := range result.Results {
		if i >= mapPreview {
			break
		}
		fmt.Printf("\nESIC %s: %s\n", r.ESICCode, r.Title)
		for j, m := range r.Matches {
			fmt.Printf("  Match %d: %s - %s (%.3f)\n", j+1, m.FullCode, m.Description, m.Score)
		}
	}

	fmt.Printf("\nMapping complete:\n")
	fmt.Printf("  Run:         %s\n", result.Run.ID)
	fmt.Printf("  Mapped:      %d\n", result.Run.Mapped)
	fmt.Printf("  Skipped:     %d (no %s vector)\n", result.Run.Skipped, result.Key)
	fmt.Printf("  Candidates:  %d ISIC entries\n", result.Candidates)
	if result.Failures > 0 {
		fmt.Printf("  Failures:    %d comparisons scored 0\n", result.Failures)
	}
	if persist {
		fmt.Printf("  Stored under %s\n", result.Key)
	}
	return result, nil
}

func exportWith(ctx context.Context, st port.ResultStore, key vector.VariantKey) error {
	out := GetConfig().Data.OutputDir
	if exportOut != "" {
		out = exportOut
	}
	exportUC := usecase.NewExportUseCase(st, GetLogger())

	path, n, err := exportUC.Export(ctx, key, dataPath(out), newProgress("Exporting"))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if rel, err := filepath.Rel(GetRootDir(), path); err == nil {
		path = rel
	}
	fmt.Printf("Exported %d results to %s\n", n, path)
	return nil
}
