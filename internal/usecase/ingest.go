package usecase

import (
	"context"
	"fmt"
	"sync"

	"esicmap/internal/adapter/sheet"
	"esicmap/internal/logging"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

// ProgressFunc is called as work completes.
type ProgressFunc func(done, total int)

// Resolver finds the workbook to read when a directory is given.
type Resolver interface {
	Resolve(path, name string) (string, error)
}

// IngestUseCase loads taxonomy workbooks, embeds every record and stores it.
type IngestUseCase struct {
	store       port.RecordStore
	builder     *vector.Builder
	resolver    Resolver
	concurrency int
	logger      *logging.Logger
}

// IngestResult contains statistics from one ingestion.
type IngestResult struct {
	Path       string
	Rows       int
	Stored     int
	Empty      int
	Duplicates int
	BadLevel   int
	// Fallbacks counts records per model whose vectors were zero-filled.
	Fallbacks map[string]int
	// Adjusted counts records whose full span had exclusions subtracted.
	Adjusted int
	Errors   []string
}

// NewIngestUseCase creates a new ingest use case. resolver may be nil when
// paths always name files.
func NewIngestUseCase(store port.RecordStore, builder *vector.Builder, resolver Resolver, concurrency int, logger *logging.Logger) *IngestUseCase {
	if concurrency < 1 {
		concurrency = 1
	}
	return &IngestUseCase{
		store:       store,
		builder:     builder,
		resolver:    resolver,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (u *IngestUseCase) resolve(path, name string) (string, error) {
	if u.resolver == nil {
		return path, nil
	}
	return u.resolver.Resolve(path, name)
}

func (u *IngestUseCase) readTable(path, name string) (*sheet.Table, string, error) {
	resolved, err := u.resolve(path, name)
	if err != nil {
		return nil, "", fmt.Errorf("locate workbook: %w", err)
	}
	t, err := sheet.ReadTable(resolved)
	if err != nil {
		return nil, "", err
	}
	return t, resolved, nil
}

// LoadESIC reads the ESIC workbook, embeds each title and upserts the
// records by code.
func (u *IngestUseCase) LoadESIC(ctx context.Context, path string, progress ProgressFunc) (*IngestResult, error) {
	t, resolved, err := u.readTable(path, "*esic*.xlsx")
	if err != nil {
		return nil, err
	}
	records, report := sheet.ParseESIC(t)
	result := newIngestResult(resolved, report)
	u.logger.Info("parsed %d ESIC records from %s", len(records), resolved)

	texts := make([]vector.Texts, len(records))
	for i, rec := range records {
		texts[i] = rec.Texts()
	}
	variants, err := u.embedAll(ctx, texts, result, progress)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Embeddings = variants[i]
	}

	if err := u.store.PutESIC(ctx, records); err != nil {
		return nil, fmt.Errorf("store esic records: %w", err)
	}
	result.Stored = len(records)
	return result, nil
}

// LoadISIC reads the ISIC workbook, embeds each entry and replaces the
// stored ISIC collection.
func (u *IngestUseCase) LoadISIC(ctx context.Context, path string, progress ProgressFunc) (*IngestResult, error) {
	t, resolved, err := u.readTable(path, "*isic*.xlsx")
	if err != nil {
		return nil, err
	}
	records, report := sheet.ParseISIC(t)
	result := newIngestResult(resolved, report)
	u.logger.Info("parsed %d ISIC records from %s", len(records), resolved)

	texts := make([]vector.Texts, len(records))
	for i, rec := range records {
		texts[i] = rec.Texts()
	}
	variants, err := u.embedAll(ctx, texts, result, progress)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Embeddings = variants[i]
	}

	if err := u.store.ReplaceISIC(ctx, records); err != nil {
		return nil, fmt.Errorf("store isic records: %w", err)
	}
	result.Stored = len(records)
	return result, nil
}

func newIngestResult(path string, report sheet.ParseReport) *IngestResult {
	return &IngestResult{
		Path:       path,
		Rows:       report.Rows,
		Empty:      report.Empty,
		Duplicates: report.Duplicates,
		BadLevel:   report.BadLevel,
		Fallbacks:  make(map[string]int),
	}
}

// embedAll builds variants for every text with at most u.concurrency
// records in flight. Output order matches input order.
func (u *IngestUseCase) embedAll(ctx context.Context, texts []vector.Texts, result *IngestResult, progress ProgressFunc) ([]vector.Variants, error) {
	out := make([]vector.Variants, len(texts))
	reports := make([][]vector.ModelReport, len(texts))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	sem := make(chan struct{}, u.concurrency)

	for i := range texts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out[i], reports[i] = u.builder.Build(ctx, texts[i])

			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(texts))
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logged := make(map[string]bool)
	for i, recReports := range reports {
		adjusted := false
		for _, r := range recReports {
			if r.Adjusted {
				adjusted = true
			}
			if !r.Fallback {
				continue
			}
			result.Fallbacks[r.Model]++
			if !logged[r.Model] {
				logged[r.Model] = true
				u.logger.Warn("embedding with %s failed, storing zero vectors: %v", r.Model, r.Err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %s: %v", i+1, r.Model, r.Err))
		}
		if adjusted {
			result.Adjusted++
		}
	}
	return out, nil
}
