package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// MediaType is the Content-Type of an .xlsx workbook
const MediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	summarySheet   = "Summary"
	shortlistSheet = "Shortlist"
	analysisSheet  = "AI Analysis"
)

// Score bands used for colour-coding, checked top-down
var bands = []struct {
	label string
	min   float64
	color string
}{
	{"Excellent (90-100)", 90, "C6EFCE"},
	{"Good (70-89)", 70, "FFEB9C"},
	{"Fair (50-69)", 50, "FFC7CE"},
	{"Poor (<50)", 0, "FF9999"},
}

func bandIndex(score float64) int {
	for i, b := range bands {
		if score >= b.min {
			return i
		}
	}
	return len(bands) - 1
}

// ExportToExcel writes the report to outputPath, adding the .xlsx extension
// when missing, and returns the path written.
func ExportToExcel(report models.ScreeningReport, outputPath string) (string, error) {
	// Ensure output path has .xlsx extension
	if !strings.HasSuffix(strings.ToLower(outputPath), ".xlsx") {
		outputPath = outputPath + ".xlsx"
	}

	// Clean the path for cross-platform compatibility (Windows paths)
	outputPath = filepath.Clean(outputPath)

	f, err := build(report)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Try to save the file directly
	if err := f.SaveAs(outputPath); err != nil {
		// If direct save fails, try buffer write fallback
		var buf bytes.Buffer
		if writeErr := f.Write(&buf); writeErr != nil {
			return "", fmt.Errorf("failed to save Excel file: direct save failed (%v), buffer write also failed: %w", err, writeErr)
		}

		if fileErr := os.WriteFile(outputPath, buf.Bytes(), 0644); fileErr != nil {
			return "", fmt.Errorf("failed to save Excel file: direct save failed (%v), file write failed: %w", err, fileErr)
		}
	}

	return outputPath, nil
}

// SaveTo writes the workbook to a local path or to a new gs:// object and
// returns where it was written.
func SaveTo(ctx context.Context, report models.ScreeningReport, target string) (string, error) {
	if !ingestion.IsGCSURI(target) {
		return ExportToExcel(report, target)
	}

	var buf bytes.Buffer
	if err := WriteExcel(report, &buf); err != nil {
		return "", err
	}
	if err := ingestion.UploadGCSObject(ctx, target, MediaType, &buf); err != nil {
		return "", err
	}
	return target, nil
}

// WriteExcel streams the report workbook to w
func WriteExcel(report models.ScreeningReport, w io.Writer) error {
	f, err := build(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}
	return nil
}

func build(report models.ScreeningReport) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{shortlistSheet, analysisSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	st, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create styles: %w", err)
	}

	rows := report.Entries()

	if err := createSummarySheet(f, st, report, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := createShortlistSheet(f, st, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create shortlist sheet: %w", err)
	}
	if err := createAnalysisSheet(f, st, report, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create AI analysis sheet: %w", err)
	}

	return f, nil
}

type styles struct {
	title  int
	header int
	label  int
	wrap   int
	band   []int
}

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

func newStyles(f *excelize.File) (*styles, error) {
	var st styles
	var err error

	if st.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	}); err != nil {
		return nil, err
	}

	if st.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder,
	}); err != nil {
		return nil, err
	}

	if st.label, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return nil, err
	}

	if st.wrap, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
		Border:    thinBorder,
	}); err != nil {
		return nil, err
	}

	for _, b := range bands {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{b.color}, Pattern: 1},
			Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
			Border:    thinBorder,
		})
		if err != nil {
			return nil, err
		}
		st.band = append(st.band, id)
	}

	return &st, nil
}

// sheetWriter collects the first cell error so sheet builders stay linear
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) set(col string, row int, value any) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellValue(w.sheet, fmt.Sprintf("%s%d", col, row), value)
}

func (w *sheetWriter) style(fromCol string, fromRow int, toCol string, toRow, style int) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellStyle(w.sheet, fmt.Sprintf("%s%d", fromCol, fromRow), fmt.Sprintf("%s%d", toCol, toRow), style)
}

func (w *sheetWriter) label(row int, label string, value any, labelStyle int) {
	w.set("A", row, label)
	w.style("A", row, "A", row, labelStyle)
	w.set("B", row, value)
}

func (w *sheetWriter) banner(row int, text string, style int) {
	w.set("A", row, text)
	w.style("A", row, "B", row, style)
	if w.err == nil {
		w.err = w.f.MergeCell(w.sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row))
	}
}

func (w *sheetWriter) widths(widths map[string]float64) {
	for col, width := range widths {
		if w.err != nil {
			return
		}
		w.err = w.f.SetColWidth(w.sheet, col, col, width)
	}
}

func (w *sheetWriter) freezeHeader() {
	if w.err != nil {
		return
	}
	w.err = w.f.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// createSummarySheet creates the summary sheet with run details and statistics
func createSummarySheet(f *excelize.File, st *styles, report models.ScreeningReport, rows []models.ShortlistEntry) error {
	w := &sheetWriter{f: f, sheet: summarySheet}
	w.widths(map[string]float64{"A": 28, "B": 60})

	row := 1
	w.banner(row, "CV Shortlist Report", st.title)
	row += 2

	w.label(row, "Job Title:", report.JobTitle, st.label)
	row++
	w.label(row, "Role Category:", string(report.RoleCategory), st.label)
	row++
	w.label(row, "Run ID:", report.RunID, st.label)
	row++
	w.label(row, "Generated:", report.Timestamp, st.label)
	row++
	w.label(row, "CVs Received:", report.TotalReceived, st.label)
	row++
	w.label(row, "CVs Scored:", report.TotalScored, st.label)
	row++
	w.label(row, "CVs Skipped:", len(report.Skipped), st.label)
	row++
	w.label(row, "Shortlisted:", len(report.Shortlist), st.label)
	row++

	aiStatus := "Not requested"
	switch {
	case report.AIError != "":
		aiStatus = "Failed: " + report.AIError
	case len(report.Ranked) > 0:
		aiStatus = fmt.Sprintf("Ranked %d candidates", len(report.Ranked))
	}
	w.label(row, "AI Ranking:", aiStatus, st.label)
	row += 2

	if len(rows) > 0 {
		w.banner(row, "Score Distribution:", st.title)
		row++

		counts := make([]int, len(bands))
		total := 0.0
		minScore, maxScore := rows[0].Score(), rows[0].Score()
		for _, r := range rows {
			s := r.Score()
			counts[bandIndex(s)]++
			total += s
			minScore = min(minScore, s)
			maxScore = max(maxScore, s)
		}

		for i, b := range bands {
			w.set("A", row, b.label+":")
			w.set("B", row, counts[i])
			w.style("A", row, "B", row, st.band[i])
			row++
		}
		row++

		w.label(row, "Average Score:", fmt.Sprintf("%.2f", total/float64(len(rows))), st.label)
		row++
		w.label(row, "Highest Score:", fmt.Sprintf("%.2f", maxScore), st.label)
		row++
		w.label(row, "Lowest Score:", fmt.Sprintf("%.2f", minScore), st.label)
		row += 2
	}

	if len(report.Skipped) > 0 {
		w.banner(row, "Skipped Files:", st.title)
		row++
		for _, s := range report.Skipped {
			w.set("A", row, s.Filename)
			w.set("B", row, s.Reason)
			row++
		}
	}

	return w.err
}

// createShortlistSheet lists the shortlisted candidates, colour-coded by score
func createShortlistSheet(f *excelize.File, st *styles, rows []models.ShortlistEntry) error {
	w := &sheetWriter{f: f, sheet: shortlistSheet}
	w.widths(map[string]float64{
		"A": 8, "B": 25, "C": 28, "D": 16, "E": 26, "F": 40,
		"G": 40, "H": 12, "I": 10, "J": 16, "K": 28,
	})

	headers := []string{"Rank", "Candidate", "Email", "Phone", "Experience", "Skills", "Education", "Preliminary", "AI Score", "Recommendation", "File"}
	for col, header := range headers {
		name, _ := excelize.ColumnNumberToName(col + 1)
		w.set(name, 1, header)
		w.style(name, 1, name, 1, st.header)
	}

	for i, r := range rows {
		row := i + 2
		c := r.Candidate

		w.set("A", row, i+1)
		w.set("B", row, c.Name)
		w.set("C", row, c.Email)
		w.set("D", row, c.Phone)
		w.set("E", row, c.ExperienceSummary)
		w.set("F", row, strings.Join(c.Skills, ", "))
		w.set("G", row, strings.Join(c.Education, "; "))
		w.set("H", row, c.PreliminaryScore)
		if r.Ranked != nil {
			w.set("I", row, r.Ranked.FinalScore)
			w.set("J", row, r.Ranked.Recommendation)
		}
		w.set("K", row, c.Filename)

		w.style("A", row, "K", row, st.band[bandIndex(r.Score())])
	}

	if len(rows) > 0 && w.err == nil {
		w.err = f.AutoFilter(shortlistSheet, fmt.Sprintf("A1:K%d", len(rows)+1), []excelize.AutoFilterOptions{})
	}
	w.freezeHeader()

	return w.err
}

// createAnalysisSheet writes the STAR bullets, strengths and gaps of every AI-ranked candidate
func createAnalysisSheet(f *excelize.File, st *styles, report models.ScreeningReport, rows []models.ShortlistEntry) error {
	w := &sheetWriter{f: f, sheet: analysisSheet}
	w.widths(map[string]float64{"A": 8, "B": 25, "C": 14, "D": 80})

	headers := []string{"Rank", "Candidate", "Section", "Detail"}
	for col, header := range headers {
		name, _ := excelize.ColumnNumberToName(col + 1)
		w.set(name, 1, header)
		w.style(name, 1, name, 1, st.header)
	}

	row := 2
	if len(report.Ranked) == 0 {
		note := "AI ranking was not requested for this run."
		if report.AIError != "" {
			note = "AI ranking failed: " + report.AIError
		}
		w.set("D", row, note)
		w.style("A", row, "D", row, st.wrap)
		w.freezeHeader()
		return w.err
	}

	for i, r := range rows {
		if r.Ranked == nil {
			continue
		}

		sections := []struct {
			name  string
			items []string
		}{
			{"STAR", r.Ranked.StarBullets},
			{"Strengths", r.Ranked.Strengths},
			{"Gaps", r.Ranked.Gaps},
		}
		for _, s := range sections {
			if len(s.items) == 0 {
				continue
			}
			w.set("A", row, i+1)
			w.set("B", row, r.Ranked.Name)
			w.set("C", row, s.name)
			w.set("D", row, "• "+strings.Join(s.items, "\n• "))
			w.style("A", row, "D", row, st.wrap)
			if w.err == nil {
				w.err = f.SetRowHeight(analysisSheet, row, float64(15*len(s.items)+10))
			}
			row++
		}
	}

	w.freezeHeader()
	return w.err
}
