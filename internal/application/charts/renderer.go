package charts

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var barColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

// Renderer draws bar charts as PNG files.
type Renderer struct {
	Width  vg.Length
	Height vg.Length
}

func NewRenderer() *Renderer {
	return &Renderer{Width: 6 * vg.Inch, Height: 4 * vg.Inch}
}

// TierKey is the chart key of a label's tier distribution.
func TierKey(label string) string { return label + "_tier" }

// Render draws one tier chart per label with a non-empty tier histogram.
// Labels with empty TierCounts produce no chart.
func (r *Renderer) Render(ctx context.Context, byLabel map[string]gap.InsightRecord, outDir string) (map[string]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out := map[string]string{}
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := byLabel[label]
		if len(rec.TierCounts) == 0 {
			continue
		}
		tiers := SortTiers(rec.TierCounts)
		values := make(plotter.Values, len(tiers))
		for i, t := range tiers {
			values[i] = float64(rec.TierCounts[t])
		}
		path := filepath.Join(outDir, fileSafe(label)+"_tier_bar.png")
		title := titleCase(label) + " Tier Distribution"
		if err := r.bar(title, "Tier", "Count", tiers, values, path); err != nil {
			return nil, fmt.Errorf("render %s: %w", TierKey(label), err)
		}
		out[TierKey(label)] = path
	}
	return out, nil
}

// RenderDistributions draws the extra Status / Obsolescence / Gap histograms of a label.
// Keys are "<label>_status" and "<label>_<column>".
func (r *Renderer) RenderDistributions(ctx context.Context, label string, dists []gap.Distribution, outDir string) (map[string]string, error) {
	out := map[string]string{}
	if len(dists) == 0 {
		return out, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}
	for _, d := range dists {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(d.Values) == 0 {
			continue
		}
		suffix := strings.ToLower(fileSafe(d.Column))
		key := label + "_" + suffix
		path := filepath.Join(outDir, fileSafe(label)+"_"+suffix+"_bar.png")
		ylabel := "Value"
		if strings.EqualFold(d.Column, "status") {
			ylabel = "Count"
		}
		title := fmt.Sprintf("%s %s", titleCase(label), d.Column)
		if err := r.bar(title, d.Column, ylabel, d.Labels, plotter.Values(d.Values), path); err != nil {
			return nil, fmt.Errorf("render %s: %w", key, err)
		}
		out[key] = path
	}
	return out, nil
}

// bar builds a fresh plot per call; nothing outlives Save.
func (r *Renderer) bar(title, xlabel, ylabel string, names []string, values plotter.Values, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return err
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	w, h := r.Width, r.Height
	if w == 0 || h == 0 {
		w, h = 6*vg.Inch, 4*vg.Inch
	}
	return p.Save(w, h, path)
}

// SortTiers orders tier labels numerically when all are numbers, lexically otherwise.
func SortTiers(counts map[string]int) []string {
	tiers := make([]string, 0, len(counts))
	numeric := true
	for t := range counts {
		tiers = append(tiers, t)
		if _, err := strconv.ParseFloat(t, 64); err != nil {
			numeric = false
		}
	}
	sort.Slice(tiers, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(tiers[i], 64)
			b, _ := strconv.ParseFloat(tiers[j], 64)
			return a < b
		}
		return tiers[i] < tiers[j]
	})
	return tiers
}

func fileSafe(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "chart"
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
