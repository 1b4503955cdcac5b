package domain

import (
	"time"

	"esicmap/internal/vector"
)

// ESICRecord is one source-taxonomy category.
type ESICRecord struct {
	Code              string          `json:"code"`
	Title             string          `json:"title"`
	Type              string          `json:"type,omitempty"`
	Sector            string          `json:"sector,omitempty"`
	Division          string          `json:"division,omitempty"`
	MajorGroup        string          `json:"major_group,omitempty"`
	Group             string          `json:"group,omitempty"`
	LicensingCategory string          `json:"licensing_category,omitempty"`
	Embeddings        vector.Variants `json:"-"`
}

func (r ESICRecord) Vector(key vector.VariantKey) []float32 {
	return r.Embeddings.Get(key)
}

// Texts embeds the title for both spans; ESIC rows carry no notes.
func (r ESICRecord) Texts() vector.Texts {
	return vector.Texts{Positive: r.Title}
}

// ISICRecord is one target-taxonomy entry at any hierarchy level.
type ISICRecord struct {
	SortOrder     int             `json:"sort_order"`
	Section       string          `json:"section,omitempty"`
	SectionLabel  string          `json:"section_label,omitempty"`
	Division      string          `json:"division,omitempty"`
	DivisionLabel string          `json:"division_label,omitempty"`
	Group         string          `json:"group,omitempty"`
	GroupLabel    string          `json:"group_label,omitempty"`
	Code          string          `json:"code,omitempty"`
	Level         int             `json:"level"`
	FullCode      string          `json:"full_code"`
	Description   string          `json:"description"`
	Inclusion     string          `json:"explanatory_note_inclusion,omitempty"`
	Exclusion     string          `json:"explanatory_note_exclusion,omitempty"`
	Embeddings    vector.Variants `json:"-"`
}

func (r ISICRecord) Vector(key vector.VariantKey) []float32 {
	return r.Embeddings.Get(key)
}

// Texts returns the spans embedded for the record: the description, the
// description with inclusion notes, and the exclusion notes to subtract.
func (r ISICRecord) Texts() vector.Texts {
	full := r.Description + ". \n "
	if r.Inclusion != "" {
		full += "Includes: " + r.Inclusion
	}
	return vector.Texts{
		Positive: r.Description,
		Full:     full,
		Negative: r.Exclusion,
	}
}

// Project copies the descriptive fields of r into a Match.
func (r ISICRecord) Project(score float64) Match {
	return Match{
		Code:          r.Code,
		FullCode:      r.FullCode,
		Description:   r.Description,
		Section:       r.Section,
		SectionLabel:  r.SectionLabel,
		Division:      r.Division,
		DivisionLabel: r.DivisionLabel,
		Group:         r.Group,
		GroupLabel:    r.GroupLabel,
		Level:         r.Level,
		Inclusion:     r.Inclusion,
		Exclusion:     r.Exclusion,
		Score:         score,
	}
}

// Filter restricts ISIC candidates before they are scored. Zero values
// disable a field.
type Filter struct {
	Level   int    `json:"level,omitempty"`
	Section string `json:"section,omitempty"`
}

// Allows reports whether r passes the filter.
func (f Filter) Allows(r ISICRecord) bool {
	if f.Level != 0 && r.Level != f.Level {
		return false
	}
	if f.Section != "" && r.SectionLabel != f.Section {
		return false
	}
	return true
}

// Match is a ranked ISIC entry.
type Match struct {
	Code          string  `json:"code"`
	FullCode      string  `json:"full_code"`
	Description   string  `json:"description"`
	Section       string  `json:"section,omitempty"`
	SectionLabel  string  `json:"section_label,omitempty"`
	Division      string  `json:"division,omitempty"`
	DivisionLabel string  `json:"division_label,omitempty"`
	Group         string  `json:"group,omitempty"`
	GroupLabel    string  `json:"group_label,omitempty"`
	Level         int     `json:"level"`
	Inclusion     string  `json:"explanatory_note_inclusion,omitempty"`
	Exclusion     string  `json:"explanatory_note_exclusion,omitempty"`
	Score         float64 `json:"score"`
}

// MappingResult is the stored outcome for one ESIC record.
type MappingResult struct {
	RunID     string                `json:"run_id"`
	ESICCode  string                `json:"esic_code"`
	Title     string                `json:"title"`
	Matches   []Match               `json:"matches"`
	MatchMode vector.SimilarityMode `json:"match_mode"`
}

// MappingRun summarises one mapping pass.
type MappingRun struct {
	ID        string                `json:"id"`
	Key       string                `json:"key"`
	MatchMode vector.SimilarityMode `json:"match_mode"`
	Filter    Filter                `json:"filter"`
	TopK      int                   `json:"top_k"`
	Started   time.Time             `json:"started"`
	Finished  time.Time             `json:"finished"`
	Mapped    int                   `json:"mapped"`
	Skipped   int                   `json:"skipped"`
}

// Stats counts what the store currently holds.
type Stats struct {
	ESIC    int            `json:"esic"`
	ISIC    int            `json:"isic"`
	Results map[string]int `json:"results,omitempty"`
	Runs    int            `json:"runs"`
}
