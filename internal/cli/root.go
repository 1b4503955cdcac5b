package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"esicmap/config"
	"esicmap/internal/logging"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	logger   *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "esicmap",
	Short: "ESIC to ISIC mapper - Embed both taxonomies and rank ISIC classes per ESIC category",
	Long: `esicmap loads the ESIC and ISIC workbooks, embeds every entry with one or more
Ollama models, and ranks ISIC classes for each ESIC category by cosine,
dot-product or distance similarity. Results are stored per embedding variant
and exported to a workbook.

Data is stored in .esicmap/store.db within the working directory.

Example usage:
  esicmap load                       # Load and embed both workbooks
  esicmap map --mode cosine -k 5     # Rank ISIC classes for every ESIC category
  esicmap export                     # Write output/<key>_mapping_results.xlsx
  esicmap query -q "Teff farming"    # Match a single title`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.ApplyEnv(rootDir)
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger = logging.New(cfg.Logging.Level)
		for _, w := range cfg.Warnings() {
			logger.Warn("%s", w)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./esicmap.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from config)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

func GetLogger() *logging.Logger {
	return logger
}
