package sheet

import (
	"esicmap/internal/domain"
)

// ESIC workbook columns.
const (
	colESICCode       = "Code"
	colESICTitle      = "Title of category"
	colESICType       = "Type"
	colESICSector     = "Sector"
	colESICDivision   = "Division"
	colESICMajorGroup = "Major Group"
	colESICGroup      = "Group"
	colESICLicensing  = "Licensing Category"

	// Position of the title when the header lacks it.
	fallbackTitleIndex = 2
)

// ISIC workbook columns.
const (
	colSortOrder     = "sort_order"
	colSection       = "section"
	colSectionLabel  = "section_label"
	colDivision      = "division"
	colDivisionLabel = "division_label"
	colGroup         = "group"
	colGroupLabel    = "group_label"
	colCode          = "code"
	colLevel         = "level"
	colFullCode      = "full_code"
	colDescription   = "description"
	colInclusion     = "explanatory_note_inclusion"
	colExclusion     = "explanatory_note_exclusion"
)

// ParseReport counts rows that did not become records.
type ParseReport struct {
	Rows       int
	Empty      int
	Duplicates int
	BadLevel   int
}

// ParseESIC turns rows into ESIC records. Rows without a code and repeated
// codes are skipped; the first occurrence wins.
func ParseESIC(t *Table) ([]domain.ESICRecord, ParseReport) {
	report := ParseReport{Rows: len(t.Rows)}
	seen := make(map[string]bool, len(t.Rows))
	records := make([]domain.ESICRecord, 0, len(t.Rows))

	for _, row := range t.Rows {
		code := t.Get(row, colESICCode)
		if code == "" {
			report.Empty++
			continue
		}
		if seen[code] {
			report.Duplicates++
			continue
		}
		seen[code] = true

		title := t.Get(row, colESICTitle)
		if !t.Has(colESICTitle) {
			title = t.At(row, fallbackTitleIndex)
		}

		records = append(records, domain.ESICRecord{
			Code:              code,
			Title:             title,
			Type:              t.Get(row, colESICType),
			Sector:            t.Get(row, colESICSector),
			Division:          t.Get(row, colESICDivision),
			MajorGroup:        t.Get(row, colESICMajorGroup),
			Group:             t.Get(row, colESICGroup),
			LicensingCategory: t.Get(row, colESICLicensing),
		})
	}
	return records, report
}

// ParseISIC turns rows into ISIC records in sheet order. Rows with neither
// a full code nor a description are skipped. A level that is not an
// integer is stored as 0, which no level filter selects.
func ParseISIC(t *Table) ([]domain.ISICRecord, ParseReport) {
	report := ParseReport{Rows: len(t.Rows)}
	records := make([]domain.ISICRecord, 0, len(t.Rows))

	for _, row := range t.Rows {
		fullCode := t.Get(row, colFullCode)
		desc := t.Get(row, colDescription)
		if fullCode == "" && desc == "" {
			report.Empty++
			continue
		}

		level, ok := Int(t.Get(row, colLevel))
		if !ok {
			report.BadLevel++
		}
		sortOrder, _ := Int(t.Get(row, colSortOrder))

		records = append(records, domain.ISICRecord{
			SortOrder:     sortOrder,
			Section:       t.Get(row, colSection),
			SectionLabel:  t.Get(row, colSectionLabel),
			Division:      t.Get(row, colDivision),
			DivisionLabel: t.Get(row, colDivisionLabel),
			Group:         t.Get(row, colGroup),
			GroupLabel:    t.Get(row, colGroupLabel),
			Code:          t.Get(row, colCode),
			Level:         level,
			FullCode:      fullCode,
			Description:   desc,
			Inclusion:     t.Get(row, colInclusion),
			Exclusion:     t.Get(row, colExclusion),
		})
	}
	return records, report
}
