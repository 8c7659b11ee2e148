package insights

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

func writeXLSX(t *testing.T, dir, name string, rows [][]any) gap.InputFile {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return gap.InputFile{FileName: name, LocalPath: path}
}

var hwRows = [][]any{
	{"Device Type", "Model", "Lifecycle Status", "Recommendation", "Tier"},
	{"Router", "X1", "Obsolete", "Replace routers", "1"},
	{"Switch", "S2", "Active", "", "2"},
	{"Router", "X2", " obsolete ", "Replace routers", "1"},
	{"Firewall", "F9", "OBSOLETE", "Upgrade firewall", ""},
}

func TestExtract_HardwareAndSoftware(t *testing.T) {
	dir := t.TempDir()
	hw := writeXLSX(t, dir, "HW_inventory.xlsx", hwRows)
	sw := writeXLSX(t, dir, "sw_inventory.xlsx", [][]any{
		{"Product", "Lifecycle Status", "Recommendation"},
		{"Windows 7", "Obsolete", "Migrate to Windows 11"},
		{"Office 2021", "Active"},
	})

	gotHW, gotSW := (&Extractor{}).Extract(context.Background(), []gap.InputFile{hw, sw})

	assert.Equal(t, []string{"Router", "Firewall"}, gotHW.Obsolete)
	assert.Equal(t, []string{"Replace routers", "Upgrade firewall"}, gotHW.Recommendations)
	assert.Equal(t, map[string]int{"1": 2, "2": 1}, gotHW.TierCounts)

	// no Device Type: first column is the key; no Tier column: empty map
	assert.Equal(t, []string{"Windows 7"}, gotSW.Obsolete)
	assert.Equal(t, []string{"Migrate to Windows 11"}, gotSW.Recommendations)
	assert.NotNil(t, gotSW.TierCounts)
	assert.Empty(t, gotSW.TierCounts)
}

func TestExtract_Empty(t *testing.T) {
	hw, sw := (&Extractor{}).Extract(context.Background(), nil)
	assert.Equal(t, gap.EmptyInsights(), hw)
	assert.Equal(t, gap.EmptyInsights(), sw)
}

func TestExtract_LastWriteWins(t *testing.T) {
	dir := t.TempDir()
	first := writeXLSX(t, dir, "hw_a.xlsx", hwRows)
	second := writeXLSX(t, dir, "hw_b.xlsx", [][]any{
		{"Device Type", "Lifecycle Status", "Tier"},
		{"Server", "Obsolete", "3"},
	})

	hw, _ := (&Extractor{}).Extract(context.Background(), []gap.InputFile{first, second})
	assert.Equal(t, []string{"Server"}, hw.Obsolete)
	assert.Empty(t, hw.Recommendations)
	assert.Equal(t, map[string]int{"3": 1}, hw.TierCounts)
}

func TestExtract_SkipsUnclassifiedUnreadableAndNonSpreadsheets(t *testing.T) {
	dir := t.TempDir()
	unclassified := writeXLSX(t, dir, "inventory.xlsx", hwRows)

	broken := filepath.Join(dir, "hw_broken.xlsx")
	require.NoError(t, os.WriteFile(broken, []byte("not a workbook"), 0o644))

	csv := filepath.Join(dir, "hw.csv")
	require.NoError(t, os.WriteFile(csv, []byte("Device Type,Tier\nRouter,1\n"), 0o644))

	res := (&Extractor{}).ExtractAll(context.Background(), []gap.InputFile{
		unclassified,
		{FileName: "hw_broken.xlsx", LocalPath: broken},
		{FileName: "hw.csv", LocalPath: csv},
		{FileName: "sw_missing.xlsx"}, // never staged
	})
	assert.Equal(t, gap.EmptyInsights(), res.Hardware)
	assert.Equal(t, gap.EmptyInsights(), res.Software)
	assert.Empty(t, res.Distributions)
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		cat gap.Category
		ok  bool
	}{
		"HW_list.xlsx":     {gap.CategoryHardware, true},
		"legacy_SW.xlsx":   {gap.CategorySoftware, true},
		"hw_and_sw.xlsx":   {gap.CategoryHardware, true},
		"inventory.xlsx":   {"", false},
		"dir/hw/list.xlsx": {"", false},
	}
	for name, want := range cases {
		cat, ok := Classify(name)
		assert.Equal(t, want.ok, ok, name)
		assert.Equal(t, want.cat, cat, name)
	}
}

func TestDistributions(t *testing.T) {
	tbl := Table{
		Header: []string{"Device Type", "Status", "Obsolescence Score", "Gap Notes"},
		Rows: [][]string{
			{"Router", "Active", "0.8", "n/a"},
			{"Switch", "Retired", "0.2", ""},
			{"Firewall", "Active"},
		},
	}
	dists := Distributions(tbl)
	require.Len(t, dists, 2)

	assert.Equal(t, "Status", dists[0].Column)
	assert.Equal(t, []string{"Active", "Retired"}, dists[0].Labels)
	assert.Equal(t, []float64{2, 1}, dists[0].Values)

	// "Gap Notes" is not numeric and is left out
	assert.Equal(t, "Obsolescence Score", dists[1].Column)
	assert.Equal(t, []string{"Router", "Switch"}, dists[1].Labels)
	assert.Equal(t, []float64{0.8, 0.2}, dists[1].Values)
}

func TestFromTable_NoHeader(t *testing.T) {
	assert.Equal(t, gap.EmptyInsights(), FromTable(Table{}))
}
