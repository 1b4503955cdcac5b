package port

import (
	"context"
	"errors"

	"esicmap/internal/domain"
	"esicmap/internal/vector"
)

var ErrNotFound = errors.New("not found")

// ESICVisitor receives one ESIC record and its vector at the scanned key.
type ESICVisitor func(rec domain.ESICRecord, vec []float32) error

// ISICVisitor receives one ISIC record and its vector at the scanned key.
type ISICVisitor func(rec domain.ISICRecord, vec []float32) error

// CandidateSource streams ISIC candidates in ingestion order. Records
// rejected by filter are never passed to fn. vec is nil when the record
// has no vector stored at key.
type CandidateSource interface {
	ScanISIC(ctx context.Context, filter domain.Filter, key vector.VariantKey, fn ISICVisitor) error
}

// ResultStore keeps mapping results grouped by the variant key they were
// computed with.
type ResultStore interface {
	ClearResults(ctx context.Context, key vector.VariantKey) error
	PutResults(ctx context.Context, key vector.VariantKey, results []domain.MappingResult) error
	ListResults(ctx context.Context, key vector.VariantKey) ([]domain.MappingResult, error)
	PutRun(ctx context.Context, run domain.MappingRun) error
	ListRuns(ctx context.Context) ([]domain.MappingRun, error)
}

// RecordStore persists both taxonomies, their vectors and mapping results.
type RecordStore interface {
	CandidateSource
	ResultStore

	// PutESIC upserts records by code, keeping first-seen order.
	PutESIC(ctx context.Context, records []domain.ESICRecord) error
	// ReplaceISIC drops every stored ISIC record before inserting records.
	ReplaceISIC(ctx context.Context, records []domain.ISICRecord) error
	GetESIC(ctx context.Context, code string) (domain.ESICRecord, error)
	ScanESIC(ctx context.Context, key vector.VariantKey, fn ESICVisitor) error

	Stats(ctx context.Context) (domain.Stats, error)
	// Reset clears records, vectors and results.
	Reset(ctx context.Context) error
	Close() error
}

// FileWalker discovers input workbooks.
type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}
