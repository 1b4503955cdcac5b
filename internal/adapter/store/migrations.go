package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"esicmap/config"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchema = []byte("schema")

	// v1 kept the version and hash under separate keys.
	legacyKeyVersion = []byte("schema_version")
	legacyKeyHash    = []byte("config_hash")
	legacyResults    = []byte("mapping_results")
)

// SchemaInfo records the storage layout version and the embedding settings
// the stored vectors were built with.
type SchemaInfo struct {
	Version    int       `json:"version"`
	ConfigHash string    `json:"config_hash"`
	Models     []string  `json:"models,omitempty"`
	Dimension  int       `json:"dimension,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GetSchemaInfo reads the schema record. A store that predates the record
// reports the legacy keys; an empty store reports version 0.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if data := b.Get(keySchema); data != nil {
			return json.Unmarshal(data, &info)
		}
		if v := b.Get(legacyKeyVersion); v != nil {
			n, err := strconv.Atoi(strings.TrimSpace(string(v)))
			if err != nil {
				n = 1
			}
			info.Version = n
			info.ConfigHash = string(b.Get(legacyKeyHash))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read schema info: %w", err)
	}
	return &info, nil
}

// ComputeConfigHash hashes the settings stored vectors depend on. A
// different hash means the stored vectors were built for other models.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		Models    []string `json:"models"`
		Dimension int      `json:"dimension"`
	}{
		Models:    sortedModels(cfg),
		Dimension: cfg.Embedding.Dimension,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

func sortedModels(cfg *config.Config) []string {
	models := slices.Clone(cfg.Embedding.Models)
	slices.Sort(models)
	return slices.Compact(models)
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration compares the stored schema record with cfg.
func (s *BoltStore) CheckMigration(cfg *config.Config) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema"
		return result, nil
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("store written by a newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	}

	if info.ConfigHash != "" && info.ConfigHash != ComputeConfigHash(cfg) {
		result.NeedsRebuild = true
		result.Reason = describeChange(info, cfg)
	}
	return result, nil
}

// describeChange names what differs between the stored settings and cfg.
// Legacy records carry only a hash, so the detail may be unknown.
func describeChange(info *SchemaInfo, cfg *config.Config) string {
	var parts []string
	if info.Models != nil {
		now := sortedModels(cfg)
		for _, m := range now {
			if !slices.Contains(info.Models, m) {
				parts = append(parts, "+"+m)
			}
		}
		for _, m := range info.Models {
			if !slices.Contains(now, m) {
				parts = append(parts, "-"+m)
			}
		}
	}
	if info.Dimension != 0 && info.Dimension != cfg.Embedding.Dimension {
		parts = append(parts, fmt.Sprintf("dimension %d -> %d", info.Dimension, cfg.Embedding.Dimension))
	}
	if len(parts) == 0 {
		return "embedding models or dimension changed"
	}
	return "embedding settings changed: " + strings.Join(parts, ", ")
}

// Migrate upgrades the layout and records cfg's embedding settings.
func (s *BoltStore) Migrate(cfg *config.Config) error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for v := max(info.Version, 1); v < CurrentSchemaVersion; v++ {
			if err := runMigration(tx, v, v+1); err != nil {
				return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
			}
		}

		data, err := json.Marshal(SchemaInfo{
			Version:    CurrentSchemaVersion,
			ConfigHash: ComputeConfigHash(cfg),
			Models:     sortedModels(cfg),
			Dimension:  cfg.Embedding.Dimension,
			UpdatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keySchema, data)
	})
}

func runMigration(tx *bbolt.Tx, from, to int) error {
	switch {
	case from == 1 && to == 2:
		// v1 kept every result in one flat bucket and the schema under
		// separate keys.
		if tx.Bucket(legacyResults) != nil {
			if err := tx.DeleteBucket(legacyResults); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Delete(legacyKeyVersion); err != nil {
			return err
		}
		if err := meta.Delete(legacyKeyHash); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	default:
		return nil
	}
}

// Clear removes records, vectors and results but keeps the schema info.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return recreate(tx, bucketESIC, bucketESICCodes, bucketESICVectors,
			bucketISIC, bucketISICVectors, bucketResults, bucketRuns)
	})
}

// NeedsRebuild reports whether the stored vectors were built with other
// embedding settings.
func (s *BoltStore) NeedsRebuild(cfg *config.Config) (bool, string, error) {
	result, err := s.CheckMigration(cfg)
	if err != nil {
		return false, "", err
	}
	return result.NeedsRebuild, result.Reason, nil
}
