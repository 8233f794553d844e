package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Formats lists every supported report format.
var Formats = []string{FormatText, FormatJSON, FormatYAML, FormatCSV, FormatXLSX}

// Report is a completed run: metadata plus every region in commit order.
type Report struct {
	RunID             string          `json:"run_id" yaml:"run_id"`
	GeneratedAt       time.Time       `json:"generated_at" yaml:"generated_at"`
	WorkingSRS        string          `json:"working_srs" yaml:"working_srs"`
	SimplifyTolerance float64         `json:"simplify_tolerance" yaml:"simplify_tolerance"`
	Regions           []OverlapResult `json:"regions" yaml:"regions"`
}

// NewReport snapshots the store under a fresh run ID.
func NewReport(s *Store, workingSRS string, tolerance float64) Report {
	return Report{
		RunID:             uuid.New().String(),
		GeneratedAt:       time.Now().UTC(),
		WorkingSRS:        workingSRS,
		SimplifyTolerance: tolerance,
		Regions:           s.All(),
	}
}

// Write renders r to w. The xlsx format needs a file; use WriteFile.
func Write(w io.Writer, format string, r Report) error {
	switch format {
	case FormatText, "":
		return writeText(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "results: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "results: encode yaml")
		}
		return eris.Wrap(enc.Close(), "results: close yaml encoder")
	case FormatCSV:
		return writeCSV(w, r)
	case FormatXLSX:
		return eris.New("results: xlsx output requires --output")
	default:
		return eris.Errorf("results: unsupported format %q", format)
	}
}

// WriteFile renders r to path, or to stdout when path is empty.
func WriteFile(path, format string, r Report) error {
	if format == FormatXLSX {
		if path == "" {
			return eris.New("results: xlsx output requires --output")
		}
		return writeXLSX(path, r)
	}
	if path == "" {
		return Write(os.Stdout, format, r)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "results: create output file %s", path)
	}
	if err := Write(f, format, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "results: close %s", path)
}

func writeText(w io.Writer, r Report) error {
	var b strings.Builder
	b.WriteString("\nFinal Results:\n")
	for _, res := range r.Regions {
		fmt.Fprintf(&b, "ISO3: %s\n", res.Region)
		fmt.Fprintf(&b, "  Overlap with biodiversity layer: %.2f hectares\n", res.BiodiversityHectares)
		for _, c := range res.Categories {
			fmt.Fprintf(&b, "  Overlap with protected areas (IUCN %s): %.2f hectares\n", c.Category, c.ProtectedAreaHectares)
			fmt.Fprintf(&b, "  Overlap with both biodiversity and protected areas (IUCN %s): %.2f hectares\n", c.Category, c.TripleHectares)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "results: write text report")
}

// wideHeader mirrors the per-region result keys: one protected-area and one
// triple column per category.
func wideHeader(categories []string) []string {
	header := []string{"iso3", "biodiversity_overlap_ha"}
	for _, c := range categories {
		header = append(header, "pa_overlap_ha_"+c, "bio_pa_overlap_ha_"+c)
	}
	return header
}

func wideRow(res OverlapResult, categories []string) []float64 {
	row := []float64{res.BiodiversityHectares}
	for _, name := range categories {
		c, _ := res.Category(name)
		row = append(row, c.ProtectedAreaHectares, c.TripleHectares)
	}
	return row
}

func writeCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	categories := categoryNames(r.Regions)
	if err := cw.Write(wideHeader(categories)); err != nil {
		return eris.Wrap(err, "results: write CSV header")
	}
	for _, res := range r.Regions {
		rec := []string{res.Region}
		for _, v := range wideRow(res, categories) {
			rec = append(rec, strconv.FormatFloat(v, 'f', 2, 64))
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "results: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "results: flush CSV")
}

func writeXLSX(path string, r Report) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("overlap")
	if err != nil {
		return eris.Wrap(err, "results: add xlsx sheet")
	}
	categories := categoryNames(r.Regions)
	row := sheet.AddRow()
	for _, h := range wideHeader(categories) {
		row.AddCell().SetString(h)
	}
	for _, res := range r.Regions {
		row := sheet.AddRow()
		row.AddCell().SetString(res.Region)
		for _, v := range wideRow(res, categories) {
			row.AddCell().SetFloatWithFormat(v, "0.00")
		}
	}

	meta, err := f.AddSheet("run")
	if err != nil {
		return eris.Wrap(err, "results: add xlsx sheet")
	}
	for _, kv := range [][2]string{
		{"run_id", r.RunID},
		{"generated_at", r.GeneratedAt.Format(time.RFC3339)},
		{"working_srs", r.WorkingSRS},
		{"simplify_tolerance", strconv.FormatFloat(r.SimplifyTolerance, 'g', -1, 64)},
	} {
		row := meta.AddRow()
		row.AddCell().SetString(kv[0])
		row.AddCell().SetString(kv[1])
	}

	return eris.Wrapf(f.Save(path), "results: save %s", path)
}
