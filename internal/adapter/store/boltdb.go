package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"esicmap/internal/domain"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

var (
	bucketESIC        = []byte("esic")
	bucketESICCodes   = []byte("esic_codes")
	bucketESICVectors = []byte("esic_vectors")
	bucketISIC        = []byte("isic")
	bucketISICVectors = []byte("isic_vectors")
	bucketResults     = []byte("results")
	bucketRuns        = []byte("runs")
	bucketMeta        = []byte("meta")
)

var allBuckets = [][]byte{
	bucketESIC, bucketESICCodes, bucketESICVectors,
	bucketISIC, bucketISICVectors,
	bucketResults, bucketRuns, bucketMeta,
}

// BoltStore keeps records under sequence keys so scans return them in
// ingestion order. Vectors live in one sub-bucket per variant key.
type BoltStore struct {
	db *bbolt.DB
}

var _ port.RecordStore = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// putVariants writes every vector of rec under its variant sub-bucket.
func putVariants(root *bbolt.Bucket, id []byte, variants vector.Variants) error {
	for key, vec := range variants {
		sub, err := root.CreateBucketIfNotExists([]byte(key.String()))
		if err != nil {
			return fmt.Errorf("failed to create vector bucket %s: %w", key, err)
		}
		if err := sub.Put(id, encodeVector(vec)); err != nil {
			return err
		}
	}
	return nil
}

// loadVariants reads every stored vector of one record.
func loadVariants(root *bbolt.Bucket, id []byte) (vector.Variants, error) {
	out := make(vector.Variants)
	err := root.ForEachBucket(func(name []byte) error {
		key, err := vector.ParseVariantKey(string(name))
		if err != nil {
			return nil
		}
		if data := root.Bucket(name).Get(id); data != nil {
			vec, err := decodeVector(data)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			out[key] = vec
		}
		return nil
	})
	return out, err
}

// vectorAt returns the decoded vector at key, or nil when the key was never
// written for id.
func vectorAt(sub *bbolt.Bucket, id []byte) ([]float32, error) {
	if sub == nil {
		return nil, nil
	}
	data := sub.Get(id)
	if data == nil {
		return nil, nil
	}
	return decodeVector(data)
}

func (s *BoltStore) PutESIC(ctx context.Context, records []domain.ESICRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		recs := tx.Bucket(bucketESIC)
		codes := tx.Bucket(bucketESICCodes)
		vecs := tx.Bucket(bucketESICVectors)

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := codes.Get([]byte(rec.Code))
			if id == nil {
				seq, err := recs.NextSequence()
				if err != nil {
					return err
				}
				id = itob(seq)
				if err := codes.Put([]byte(rec.Code), id); err != nil {
					return err
				}
			} else {
				id = append([]byte(nil), id...)
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := recs.Put(id, data); err != nil {
				return err
			}
			if err := putVariants(vecs, id, rec.Embeddings); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetESIC(ctx context.Context, code string) (domain.ESICRecord, error) {
	var rec domain.ESICRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketESICCodes).Get([]byte(code))
		if id == nil {
			return fmt.Errorf("esic %s: %w", code, port.ErrNotFound)
		}
		if err := json.Unmarshal(tx.Bucket(bucketESIC).Get(id), &rec); err != nil {
			return err
		}
		variants, err := loadVariants(tx.Bucket(bucketESICVectors), id)
		if err != nil {
			return err
		}
		rec.Embeddings = variants
		return nil
	})
	return rec, err
}

func (s *BoltStore) ScanESIC(ctx context.Context, key vector.VariantKey, fn port.ESICVisitor) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		sub := tx.Bucket(bucketESICVectors).Bucket([]byte(key.String()))
		c := tx.Bucket(bucketESIC).Cursor()
		for id, data := c.First(); id != nil; id, data = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec domain.ESICRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("corrupt esic record %x: %w", id, err)
			}
			vec, err := vectorAt(sub, id)
			if err != nil {
				return fmt.Errorf("esic %s: %w", rec.Code, err)
			}
			if err := fn(rec, vec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ReplaceISIC(ctx context.Context, records []domain.ISICRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := recreate(tx, bucketISIC, bucketISICVectors); err != nil {
			return err
		}
		recs := tx.Bucket(bucketISIC)
		vecs := tx.Bucket(bucketISICVectors)

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq, err := recs.NextSequence()
			if err != nil {
				return err
			}
			id := itob(seq)
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := recs.Put(id, data); err != nil {
				return err
			}
			if err := putVariants(vecs, id, rec.Embeddings); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanISIC decodes only the vector stored at key; the other variants of a
// record are never read.
func (s *BoltStore) ScanISIC(ctx context.Context, filter domain.Filter, key vector.VariantKey, fn port.ISICVisitor) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		sub := tx.Bucket(bucketISICVectors).Bucket([]byte(key.String()))
		c := tx.Bucket(bucketISIC).Cursor()
		for id, data := c.First(); id != nil; id, data = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec domain.ISICRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("corrupt isic record %x: %w", id, err)
			}
			if !filter.Allows(rec) {
				continue
			}
			vec, err := vectorAt(sub, id)
			if err != nil {
				return fmt.Errorf("isic %s: %w", rec.FullCode, err)
			}
			if err := fn(rec, vec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ClearResults(ctx context.Context, key vector.VariantKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketResults)
		name := []byte(key.String())
		if root.Bucket(name) == nil {
			return nil
		}
		return root.DeleteBucket(name)
	})
}

// PutResults appends results after any already stored under key.
func (s *BoltStore) PutResults(ctx context.Context, key vector.VariantKey, results []domain.MappingResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sub, err := tx.Bucket(bucketResults).CreateBucketIfNotExists([]byte(key.String()))
		if err != nil {
			return err
		}
		for _, res := range results {
			seq, err := sub.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(res)
			if err != nil {
				return err
			}
			if err := sub.Put(itob(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListResults(ctx context.Context, key vector.VariantKey) ([]domain.MappingResult, error) {
	var results []domain.MappingResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		sub := tx.Bucket(bucketResults).Bucket([]byte(key.String()))
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, v []byte) error {
			var res domain.MappingResult
			if err := json.Unmarshal(v, &res); err != nil {
				return err
			}
			results = append(results, res)
			return nil
		})
	})
	return results, err
}

func (s *BoltStore) PutRun(ctx context.Context, run domain.MappingRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) ListRuns(ctx context.Context) ([]domain.MappingRun, error) {
	var runs []domain.MappingRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run domain.MappingRun
			if err := json.Unmarshal(v, &run); err != nil {
				return nil
			}
			runs = append(runs, run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{Results: make(map[string]int)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.ESIC = tx.Bucket(bucketESIC).Stats().KeyN
		stats.ISIC = tx.Bucket(bucketISIC).Stats().KeyN
		stats.Runs = tx.Bucket(bucketRuns).Stats().KeyN
		root := tx.Bucket(bucketResults)
		return root.ForEachBucket(func(name []byte) error {
			stats.Results[string(name)] = root.Bucket(name).Stats().KeyN
			return nil
		})
	})
	return stats, err
}

func (s *BoltStore) Reset(ctx context.Context) error {
	return s.Clear()
}

// recreate drops and recreates the named buckets, resetting their
// sequences.
func recreate(tx *bbolt.Tx, names ...[]byte) error {
	for _, name := range names {
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop bucket %s: %w", name, err)
			}
		}
		if _, err := tx.CreateBucket(name); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	return nil
}
