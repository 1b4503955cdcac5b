package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"esicmap/config"
	"esicmap/internal/usecase"
	"esicmap/internal/vector"
)

var (
	testModel  string
	resetForce bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the embedding endpoint with a sample sentence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		model := cfg.Embedding.DefaultModel
		if testModel != "" {
			model = testModel
		}
		norm, err := vector.ParseNormalizationMode(cfg.Embedding.NormalizationMode)
		if err != nil {
			GetLogger().Warn("%v, using %s", err, norm)
		}

		queryUC := usecase.NewQueryUseCase(nil, newEmbedder(cfg), nil, GetLogger())
		fmt.Printf("Embedding %q with %s at %s...\n", usecase.SampleText, model, cfg.Ollama.Host)
		vec, err := queryUC.Probe(cmd.Context(), model, norm)
		if err != nil {
			return fmt.Errorf("embedding test failed: %w", err)
		}

		fmt.Printf("Vector length: %d\n", len(vec))
		if len(vec) != cfg.Embedding.Dimension {
			fmt.Printf("Warning: configured dimension is %d\n", cfg.Embedding.Dimension)
		}
		fmt.Printf("First dimensions (%s): %v\n", norm, vec[:min(5, len(vec))])
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all stored records and mapping results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if !resetForce {
			return fmt.Errorf("reset would delete %d ESIC and %d ISIC records and %d runs; pass --force to confirm",
				stats.ESIC, stats.ISIC, stats.Runs)
		}
		if err := st.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Printf("Removed %d ESIC and %d ISIC records, %d result sets and %d runs.\n",
			stats.ESIC, stats.ISIC, len(stats.Results), stats.Runs)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the store holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		st, err := openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		info, err := st.GetSchemaInfo()
		if err != nil {
			return err
		}

		fmt.Printf("Store:          %s\n", config.DBPath(GetRootDir()))
		fmt.Printf("Schema:         v%d (config %s)\n", info.Version, info.ConfigHash)
		if !info.UpdatedAt.IsZero() {
			fmt.Printf("Embedded with:  %v, dimension %d (%s)\n", info.Models, info.Dimension, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("Models:         %v (default %s)\n", cfg.Embedding.Models, cfg.Embedding.DefaultModel)
		fmt.Printf("ESIC records:   %d\n", stats.ESIC)
		fmt.Printf("ISIC records:   %d\n", stats.ISIC)

		if len(stats.Results) > 0 {
			keys := make([]string, 0, len(stats.Results))
			for k := range stats.Results {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Println("Results:")
			for _, k := range keys {
				fmt.Printf("  %-48s %d\n", k, stats.Results[k])
			}
		}

		runs, err := st.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
		if len(runs) > 0 {
			fmt.Println("Recent runs:")
			for _, r := range runs[:min(5, len(runs))] {
				fmt.Printf("  %s  %s  %-40s mapped %d, skipped %d\n",
					r.Started.Format("2006-01-02 15:04"), r.ID[:8], r.Key, r.Mapped, r.Skipped)
			}
		}
		return nil
	},
}

func init() {
	testCmd.Flags().StringVar(&testModel, "model", "", "embedding model (default from config)")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm the reset")
	rootCmd.AddCommand(testCmd, resetCmd, statusCmd)
}
