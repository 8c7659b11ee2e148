package insights

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

const spreadsheetExt = ".xlsx"

// column headers, matched case-insensitively
const (
	colLifecycle      = "lifecycle status"
	colRecommendation = "recommendation"
	colTier           = "tier"
	colStatus         = "status"
	colDeviceType     = "device type"
)

// Table is a parsed sheet: the header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Result carries both category records and the extra distributions found per category.
type Result struct {
	Hardware      gap.InsightRecord
	Software      gap.InsightRecord
	Distributions map[gap.Category][]gap.Distribution
}

// Extractor turns staged inventory spreadsheets into insight records.
type Extractor struct {
	Logger *zerolog.Logger
}

func (e *Extractor) log() *zerolog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return &log.Logger
}

// Extract returns the hardware and software insights of the staged files.
func (e *Extractor) Extract(ctx context.Context, staged []gap.InputFile) (hw, sw gap.InsightRecord) {
	res := e.ExtractAll(ctx, staged)
	return res.Hardware, res.Software
}

// ExtractAll parses every staged .xlsx file. A later file of the same category
// replaces the earlier record; files that fail to parse are skipped.
func (e *Extractor) ExtractAll(ctx context.Context, staged []gap.InputFile) Result {
	res := Result{
		Hardware:      gap.EmptyInsights(),
		Software:      gap.EmptyInsights(),
		Distributions: map[gap.Category][]gap.Distribution{},
	}
	lg := e.log()

	for _, f := range staged {
		if ctx.Err() != nil {
			break
		}
		if !f.Staged() || !strings.HasSuffix(strings.ToLower(f.FileName), spreadsheetExt) {
			continue
		}
		tbl, err := ReadTable(f.LocalPath)
		if err != nil {
			lg.Warn().Err(err).Str("file", f.FileName).Msg("skipping unreadable spreadsheet")
			continue
		}
		rec := FromTable(tbl)

		cat, ok := Classify(f.FileName)
		if !ok {
			lg.Info().Str("file", f.FileName).Msg("unclassified spreadsheet, insights discarded")
			continue
		}
		switch cat {
		case gap.CategoryHardware:
			res.Hardware = rec
		case gap.CategorySoftware:
			res.Software = rec
		}
		res.Distributions[cat] = Distributions(tbl)
		lg.Debug().
			Str("file", f.FileName).
			Str("category", string(cat)).
			Int("obsolete", len(rec.Obsolete)).
			Int("tiered", rec.Total()).
			Msg("extracted insights")
	}
	return res
}

// Classify maps a file name to a category by "hw"/"sw" substring.
func Classify(fileName string) (gap.Category, bool) {
	name := strings.ToLower(filepath.Base(fileName))
	switch {
	case strings.Contains(name, "hw"):
		return gap.CategoryHardware, true
	case strings.Contains(name, "sw"):
		return gap.CategorySoftware, true
	}
	return "", false
}

// ReadTable opens the first sheet of an xlsx workbook.
func ReadTable(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return Table{}, nil
	}
	return Table{Header: rows[0], Rows: rows[1:]}, nil
}

// Column returns the index of a header (case-insensitive, trimmed) or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed value at row r, column c; short rows yield "".
func (t Table) Cell(r, c int) string {
	if c < 0 || r < 0 || r >= len(t.Rows) || c >= len(t.Rows[r]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[r][c])
}

// FromTable computes one insight record. Missing columns degrade to empty values.
func FromTable(t Table) gap.InsightRecord {
	rec := gap.EmptyInsights()

	key := t.Column(colDeviceType)
	if key < 0 && len(t.Header) > 0 {
		key = 0
	}

	if lc := t.Column(colLifecycle); lc >= 0 && key >= 0 {
		seen := map[string]bool{}
		for r := range t.Rows {
			if !strings.EqualFold(t.Cell(r, lc), "obsolete") {
				continue
			}
			item := t.Cell(r, key)
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			rec.Obsolete = append(rec.Obsolete, item)
		}
	}

	if rc := t.Column(colRecommendation); rc >= 0 {
		seen := map[string]bool{}
		for r := range t.Rows {
			v := t.Cell(r, rc)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			rec.Recommendations = append(rec.Recommendations, v)
		}
	}

	if tc := t.Column(colTier); tc >= 0 {
		for r := range t.Rows {
			if v := t.Cell(r, tc); v != "" {
				rec.TierCounts[v]++
			}
		}
	}
	return rec
}

// Distributions collects the Status histogram and numeric Obsolescence/Gap columns.
func Distributions(t Table) []gap.Distribution {
	var out []gap.Distribution

	if sc := t.Column(colStatus); sc >= 0 {
		d := gap.Distribution{Column: strings.TrimSpace(t.Header[sc])}
		idx := map[string]int{}
		for r := range t.Rows {
			v := t.Cell(r, sc)
			if v == "" {
				continue
			}
			i, ok := idx[v]
			if !ok {
				i = len(d.Labels)
				idx[v] = i
				d.Labels = append(d.Labels, v)
				d.Values = append(d.Values, 0)
			}
			d.Values[i]++
		}
		if len(d.Labels) > 0 {
			out = append(out, d)
		}
	}

	key := t.Column(colDeviceType)
	if key < 0 {
		key = 0
	}
	for c, h := range t.Header {
		name := strings.TrimSpace(h)
		if !strings.Contains(name, "Obsolescence") && !strings.Contains(name, "Gap") {
			continue
		}
		d := gap.Distribution{Column: name}
		numeric := true
		for r := range t.Rows {
			raw := t.Cell(r, c)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				numeric = false
				break
			}
			label := t.Cell(r, key)
			if label == "" {
				label = strconv.Itoa(r + 1)
			}
			d.Labels = append(d.Labels, label)
			d.Values = append(d.Values, v)
		}
		if numeric && len(d.Values) > 0 {
			out = append(out, d)
		}
	}
	return out
}
