package cli

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"esicmap/config"
	"esicmap/internal/adapter/cache"
	"esicmap/internal/adapter/embedding"
	"esicmap/internal/adapter/llm"
	"esicmap/internal/adapter/store"
	"esicmap/internal/port"
	"esicmap/internal/usecase"
)

// openStore opens the store under the working directory and brings its
// schema up to date. When the embedding settings changed since the records
// were stored, writable clears them; otherwise the mismatch is only
// reported.
func openStore(writable bool) (*store.BoltStore, error) {
	dir := GetRootDir()
	if err := config.EnsureDataDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create .esicmap directory: %w", err)
	}

	st, err := store.NewBoltStore(config.DBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	migration, err := st.CheckMigration(GetConfig())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	if migration.NeedsRebuild && !writable {
		GetLogger().Warn("stored records are stale (%s); reload the workbooks", migration.Reason)
		return st, nil
	}
	if migration.NeedsRebuild {
		fmt.Printf("Store rebuild required: %s\n", migration.Reason)
		fmt.Println("Clearing stored records...")
		if err := st.Clear(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to clear store: %w", err)
		}
	}
	if migration.NeedsRebuild || migration.NeedsMigration {
		GetLogger().Debug("schema: %s", migration.Reason)
		if err := st.Migrate(GetConfig()); err != nil {
			st.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return st, nil
}

// newEmbedder returns the Ollama embedder, wrapped in the embedding cache
// when one is configured.
func newEmbedder(cfg *config.Config) port.Embedder {
	var e port.Embedder = embedding.NewOllamaEmbedder(cfg.Ollama.Host, cfg.Ollama.Timeout)
	if cfg.Embedding.CacheSize > 0 {
		e = cache.NewCachedEmbedder(e, cache.NewEmbeddingCache(cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL))
	}
	return e
}

func newGenerator(cfg *config.Config) port.Generator {
	return llm.NewOllamaGenerator(cfg.Ollama.Host, llm.Options{
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Retries:     cfg.Generation.Retries,
		RetryDelay:  cfg.Generation.RetryDelay,
		Timeout:     cfg.Generation.Timeout,
	}, GetLogger())
}

// dataPath resolves a configured or given path against the working
// directory.
func dataPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(GetRootDir(), path)
}

// newProgress returns a progress callback that draws a bar with an ETA.
// The bar is created on the first call, once the total is known.
func newProgress(label string) usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	return func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			remaining := total - done
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
