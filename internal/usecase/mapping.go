package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"esicmap/internal/domain"
	"esicmap/internal/logging"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

// MapOptions selects the stored vectors and candidates for a mapping run.
type MapOptions struct {
	Mode   vector.SimilarityMode
	Model  string
	Span   vector.TextSpan
	K      int
	Filter domain.Filter
	// Persist clears the stored results for the key and writes the new ones.
	Persist bool
}

// Key returns the variant key the options resolve to.
func (o MapOptions) Key() vector.VariantKey {
	return vector.ResolveKey(o.Mode, o.Model, o.Span)
}

// MapResult is the outcome of one mapping run.
type MapResult struct {
	Run     domain.MappingRun
	Key     vector.VariantKey
	Results []domain.MappingResult
	// Candidates is the number of ISIC entries that passed the filter and
	// carry a vector at the key.
	Candidates int
	Failures   int
}

// MappingUseCase ranks every stored ESIC record against the ISIC catalogue.
type MappingUseCase struct {
	store  port.RecordStore
	logger *logging.Logger
	now    func() time.Time
}

func NewMappingUseCase(store port.RecordStore, logger *logging.Logger) *MappingUseCase {
	return &MappingUseCase{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

type isicCandidate struct {
	rec domain.ISICRecord
	vec []float32
}

type esicQuery struct {
	rec domain.ESICRecord
	vec []float32
}

// Map ranks each ESIC record that has a vector at the resolved key. ISIC
// candidates are filtered and loaded once, then shared by every query.
func (u *MappingUseCase) Map(ctx context.Context, opts MapOptions, progress ProgressFunc) (*MapResult, error) {
	if !opts.Mode.Valid() {
		u.logger.Warn("unknown similarity mode %q, using cosine", opts.Mode)
		opts.Mode = vector.ModeCosine
	}
	key := opts.Key()
	run := domain.MappingRun{
		ID:        uuid.NewString(),
		Key:       key.String(),
		MatchMode: opts.Mode,
		Filter:    opts.Filter,
		TopK:      opts.K,
		Started:   u.now(),
	}

	var candidates []isicCandidate
	err := u.store.ScanISIC(ctx, opts.Filter, key, func(rec domain.ISICRecord, vec []float32) error {
		if len(vec) > 0 {
			candidates = append(candidates, isicCandidate{rec: rec, vec: vec})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan isic: %w", err)
	}
	if len(candidates) == 0 {
		u.logger.Warn("no ISIC candidates with %s match level=%d section=%q", key, opts.Filter.Level, opts.Filter.Section)
	}

	var queries []esicQuery
	err = u.store.ScanESIC(ctx, key, func(rec domain.ESICRecord, vec []float32) error {
		if len(vec) == 0 {
			run.Skipped++
			u.logger.Debug("esic %s has no %s vector, skipping", rec.Code, key)
			return nil
		}
		queries = append(queries, esicQuery{rec: rec, vec: vec})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan esic: %w", err)
	}

	out := &MapResult{Key: key, Candidates: len(candidates)}
	out.Results = make([]domain.MappingResult, 0, len(queries))
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := vector.NewCollector[domain.ISICRecord](q.vec, key.Mode(), opts.K, u.logger)
		for _, cand := range candidates {
			c.Add(cand.rec, cand.vec)
		}
		out.Failures += c.Failures()
		out.Results = append(out.Results, domain.MappingResult{
			RunID:     run.ID,
			ESICCode:  q.rec.Code,
			Title:     q.rec.Title,
			Matches:   project(c.Results()),
			MatchMode: opts.Mode,
		})
		if progress != nil {
			progress(i+1, len(queries))
		}
	}

	run.Mapped = len(out.Results)
	run.Finished = u.now()
	out.Run = run

	if opts.Persist {
		if err := u.store.ClearResults(ctx, key); err != nil {
			return nil, fmt.Errorf("clear results: %w", err)
		}
		if err := u.store.PutResults(ctx, key, out.Results); err != nil {
			return nil, fmt.Errorf("store results: %w", err)
		}
		if err := u.store.PutRun(ctx, run); err != nil {
			return nil, fmt.Errorf("store run: %w", err)
		}
	}

	u.logger.Info("mapped %d ESIC records with %s (%d skipped, %d candidates)", run.Mapped, key, run.Skipped, len(candidates))
	return out, nil
}

func project(ranked []vector.Ranked[domain.ISICRecord]) []domain.Match {
	matches := make([]domain.Match, len(ranked))
	for i, r := range ranked {
		matches[i] = r.Item.Project(r.Score)
	}
	return matches
}
