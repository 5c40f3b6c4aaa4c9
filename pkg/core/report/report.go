// Package report turns valuation outputs into the tabular artifacts the
// writer layer consumes: CSV per-year tables, a sensitivity matrix, and a
// markdown summary renderable to HTML. It only reads from the records; it
// never recomputes valuation.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"intrinsic_valuation/pkg/core/kernel"
	"intrinsic_valuation/pkg/core/sensitivity"
)

// yearTableHeader fixes the per-year CSV column order.
var yearTableHeader = []string{
	"year", "revenue", "ebit", "nopat", "reinvestment", "fcff", "discount_factor", "pv_fcff",
}

// WriteYearTable emits one CSV row per forecast year.
func WriteYearTable(w io.Writer, v *kernel.ValuationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(yearTableHeader); err != nil {
		return err
	}
	for t := range v.Revenue {
		row := []string{
			strconv.Itoa(t + 1),
			num(v.Revenue[t]),
			num(v.EBIT[t]),
			num(v.NOPAT[t]),
			num(v.Reinvestment[t]),
			num(v.FCFF[t]),
			num(v.DiscountFactor[t]),
			num(v.PVFCFF[t]),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSensitivityTable emits the grid as CSV: one row per margin delta,
// one column per growth delta, axis labels on the edges.
func WriteSensitivityTable(w io.Writer, res *sensitivity.Result) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(res.GrowthAxis)+1)
	header = append(header, "margin_delta\\growth_delta")
	for _, dg := range res.GrowthAxis {
		header = append(header, num(dg))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, dm := range res.MarginAxis {
		row := make([]string, 0, len(res.GrowthAxis)+1)
		row = append(row, num(dm))
		for _, vps := range res.Grid[i] {
			row = append(row, num(vps))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryMarkdown builds the valuation bridge as a markdown table.
func SummaryMarkdown(rec *kernel.DriverRecord, v *kernel.ValuationRecord) string {
	var b strings.Builder

	title := rec.Ticker
	if title == "" {
		title = rec.Company
	}
	fmt.Fprintf(&b, "## Valuation Summary — %s\n\n", title)
	fmt.Fprintf(&b, "Horizon: %d years, %s discounting\n\n", rec.Horizon, modeLabel(v.Mode))

	b.WriteString("| Line Item | Value |\n|---|---:|\n")
	rows := []struct {
		name string
		val  float64
	}{
		{"PV of explicit FCFF", v.PVExplicit},
		{"Terminal value", v.TerminalValue},
		{"PV of terminal value", v.PVTerminal},
		{"PV of operating assets", v.PVOperatingAssets},
		{"Less: net debt", -v.NetDebt},
		{"Plus: non-operating cash", v.NonOperatingCash},
		{"Equity value", v.EquityValue},
		{"Shares outstanding", v.SharesOutstanding},
		{"Value per share", v.ValuePerShare},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %.2f |\n", r.name, r.val)
	}
	return b.String()
}

// RenderHTML converts report markdown to HTML. GFM tables are enabled
// because every report artifact is table-shaped.
func RenderHTML(markdown string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

func modeLabel(m kernel.DiscountingMode) string {
	if m == kernel.DiscountingMidYear {
		return "mid-year"
	}
	return "end-year"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
