package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

func testReport() models.ScreeningReport {
	return models.ScreeningReport{
		RunID:          "run-1",
		JobTitle:       "Ejecutivo Comercial",
		JobDescription: "Ventas B2B",
		RoleCategory:   models.RoleVentas,
		TotalReceived:  4,
		TotalScored:    3,
		Skipped:        []models.SkippedDocument{{Filename: "foto.png", Reason: "unsupported file type"}},
		Shortlist: []models.ParsedCandidate{
			{Filename: "ana.pdf", Name: "Ana Pérez", Email: "ana@correo.cl", Skills: []string{"Ventas", "Crm"}, PreliminaryScore: 72},
			{Filename: "luis.pdf", Name: "Luis Soto", PreliminaryScore: 55},
			{Filename: "eva.txt", Name: "Eva Díaz", PreliminaryScore: 30},
		},
		Timestamp: "2024-05-01T10:00:00Z",
	}
}

func rankedReport() models.ScreeningReport {
	report := testReport()
	report.Ranked = []models.RankedCandidate{
		{Filename: "luis.pdf", Name: "Luis Soto", FinalScore: 93, StarBullets: []string{"Aumentó ventas 30%"}, Strengths: []string{"Negociación"}, Rank: 1},
		{Filename: "ana.pdf", Name: "Ana Pérez", FinalScore: 64, Gaps: []string{"Sin CRM"}, Recommendation: "considerar", Rank: 2},
	}
	return report
}

// TestExportToExcel_EnsuresXlsxExtension tests that .xlsx extension is added if missing
func TestExportToExcel_EnsuresXlsxExtension(t *testing.T) {
	tmpDir := t.TempDir()

	outputPath := filepath.Join(tmpDir, "test_report")
	written, err := ExportToExcel(testReport(), outputPath)
	if err != nil {
		t.Fatalf("ExportToExcel() failed: %v", err)
	}

	expectedPath := outputPath + ".xlsx"
	if written != expectedPath {
		t.Errorf("ExportToExcel() path = %s, want %s", written, expectedPath)
	}
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("Expected file at %s but it doesn't exist", expectedPath)
	}
}

// TestExportToExcel_HandlesExistingXlsxExtension tests that existing .xlsx extension is preserved
func TestExportToExcel_HandlesExistingXlsxExtension(t *testing.T) {
	tmpDir := t.TempDir()

	outputPath := filepath.Join(tmpDir, "test_report.XLSX")
	written, err := ExportToExcel(testReport(), outputPath)
	if err != nil {
		t.Fatalf("ExportToExcel() failed: %v", err)
	}

	if strings.HasSuffix(strings.ToLower(written), ".xlsx.xlsx") {
		t.Error("Should not have double .xlsx extension")
	}
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Errorf("Expected file at %s but it doesn't exist", outputPath)
	}
}

// TestExportToExcel_EmptyResults tests export with an empty shortlist
func TestExportToExcel_EmptyResults(t *testing.T) {
	tmpDir := t.TempDir()

	report := models.ScreeningReport{JobTitle: "Test Job"}
	outputPath := filepath.Join(tmpDir, "empty_report.xlsx")
	if _, err := ExportToExcel(report, outputPath); err != nil {
		t.Fatalf("ExportToExcel() should handle empty results: %v", err)
	}

	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Errorf("Expected file at %s but it doesn't exist", outputPath)
	}
}

func openWorkbook(t *testing.T, report models.ScreeningReport) *excelize.File {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteExcel(report, &buf); err != nil {
		t.Fatalf("WriteExcel() failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, sheet, ref string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, ref)
	if err != nil {
		t.Fatalf("GetCellValue(%s, %s) failed: %v", sheet, ref, err)
	}
	return v
}

// TestWriteExcel_Sheets tests the workbook layout
func TestWriteExcel_Sheets(t *testing.T) {
	f := openWorkbook(t, testReport())

	want := []string{summarySheet, shortlistSheet, analysisSheet}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet %d = %s, want %s", i, got[i], want[i])
		}
	}

	if v := cell(t, f, summarySheet, "B3"); v != "Ejecutivo Comercial" {
		t.Errorf("job title cell = %q", v)
	}
	if v := cell(t, f, summarySheet, "B11"); v != "Not requested" {
		t.Errorf("AI status cell = %q", v)
	}
}

// TestWriteExcel_PreliminaryOrder tests that the shortlist keeps preliminary order without AI
func TestWriteExcel_PreliminaryOrder(t *testing.T) {
	f := openWorkbook(t, testReport())

	rows, err := f.GetRows(shortlistSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}

	names := []string{rows[1][1], rows[2][1], rows[3][1]}
	want := []string{"Ana Pérez", "Luis Soto", "Eva Díaz"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("row %d candidate = %s, want %s", i+1, names[i], want[i])
		}
	}

	if v := cell(t, f, shortlistSheet, "F2"); v != "Ventas, Crm" {
		t.Errorf("skills cell = %q", v)
	}
	if v := cell(t, f, analysisSheet, "D2"); !strings.Contains(v, "not requested") {
		t.Errorf("analysis note = %q", v)
	}
}

// TestWriteExcel_AIOrder tests that AI-ranked candidates come first in AI order
func TestWriteExcel_AIOrder(t *testing.T) {
	f := openWorkbook(t, rankedReport())

	want := []string{"Luis Soto", "Ana Pérez", "Eva Díaz"}
	for i, name := range want {
		ref, _ := excelize.CoordinatesToCellName(2, i+2)
		if v := cell(t, f, shortlistSheet, ref); v != name {
			t.Errorf("row %d candidate = %s, want %s", i+1, v, name)
		}
	}

	if v := cell(t, f, shortlistSheet, "I2"); v != "93" {
		t.Errorf("AI score cell = %q, want 93", v)
	}
	if v := cell(t, f, shortlistSheet, "I4"); v != "" {
		t.Errorf("unranked AI score cell = %q, want empty", v)
	}

	if v := cell(t, f, analysisSheet, "C2"); v != "STAR" {
		t.Errorf("first analysis section = %q, want STAR", v)
	}
	if v := cell(t, f, analysisSheet, "D2"); v != "• Aumentó ventas 30%" {
		t.Errorf("first analysis detail = %q", v)
	}
	if v := cell(t, f, summarySheet, "B11"); v != "Ranked 2 candidates" {
		t.Errorf("AI status cell = %q", v)
	}
}

// TestWriteExcel_AIError tests that a degraded run explains the failure
func TestWriteExcel_AIError(t *testing.T) {
	report := testReport()
	report.AIError = "quota exceeded"
	f := openWorkbook(t, report)

	if v := cell(t, f, analysisSheet, "D2"); v != "AI ranking failed: quota exceeded" {
		t.Errorf("analysis note = %q", v)
	}
}

func TestBandIndex(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{100, 0}, {90, 0}, {89.9, 1}, {70, 1}, {50, 2}, {49, 3}, {0, 3}, {-5, 3},
	}
	for _, tt := range tests {
		if got := bandIndex(tt.score); got != tt.want {
			t.Errorf("bandIndex(%v) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

// TestSaveTo_Local tests that a local target is written like ExportToExcel
func TestSaveTo_Local(t *testing.T) {
	target := filepath.Join(t.TempDir(), "shortlist")

	written, err := SaveTo(context.Background(), testReport(), target)
	if err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}
	if written != target+".xlsx" {
		t.Errorf("SaveTo() path = %s, want %s.xlsx", written, target)
	}
	if _, err := os.Stat(written); err != nil {
		t.Errorf("expected workbook at %s: %v", written, err)
	}
}

// TestSaveTo_InvalidGCSURI tests that a malformed gs:// target fails before any upload
func TestSaveTo_InvalidGCSURI(t *testing.T) {
	if _, err := SaveTo(context.Background(), testReport(), "gs://bucket-only"); err == nil {
		t.Error("SaveTo() should reject a gs:// URI without an object name")
	}
}
