package ingest

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/storage"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cases.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImport_ValidatesAndAssignsIDs(t *testing.T) {
	store := newStore(t)
	im := NewImporter(store, 3, nil)
	ctx := context.Background()

	report, err := im.Import(ctx, []models.ReferenceCaseInput{
		{CaseID: "c1", ConditionLabel: "acne", Embedding: []float32{1, 0, 0}},
		{ConditionLabel: "rosacea", Embedding: []float32{0, 1, 0}},
		{CaseID: "no-label", Embedding: []float32{0, 0, 1}},
		{CaseID: "short", ConditionLabel: "acne", Embedding: []float32{1, 0}},
		{CaseID: "bare", ConditionLabel: "melasma"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Read != 5 || report.Imported != 3 || report.Rejected != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.GeneratedIDs != 1 || report.WithoutEmbedding != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Errors) != 2 || !strings.Contains(report.Errors[1], "dimension mismatch") {
		t.Errorf("errors = %v", report.Errors)
	}

	n, _ := store.CountCases(ctx)
	if n != 3 {
		t.Errorf("stored %d cases, want 3", n)
	}
}

func TestImportFile_XLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Case_ID", "Condition", "Ethnicity", "Fitzpatrick", "Age_Group", "Embedding"},
		{"x1", "eczema", "Black", "V", "40-60", "[0.6, 0.8]"},
		{"x2", "psoriasis", "", "II", "", "1, 0"},
		{},
		{"x3", "acne", "", "", "", "not numbers"},
	}
	for i, row := range rows {
		cellName, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cellName, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	store := newStore(t)
	report, err := NewImporter(store, 2, nil).ImportFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 2 || report.Rejected != 1 || report.Read != 3 {
		t.Errorf("report = %+v", report)
	}

	got, err := store.GetCase(context.Background(), "x1")
	if err != nil {
		t.Fatal(err)
	}
	want := models.Demographics{Ethnicity: "Black", SkinType: "V", AgeGroup: "40-60"}
	if got.Demographics != want || got.ConditionLabel != "eczema" {
		t.Errorf("got %+v", got)
	}
	if !reflect.DeepEqual(got.Embedding, []float32{0.6, 0.8}) {
		t.Errorf("embedding = %v", got.Embedding)
	}
}

func TestImportFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yml")
	content := `
- case_id: y1
  condition_label: vitiligo
  embedding: [0, 1]
- condition_label: tinea
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	report, err := NewImporter(newStore(t), 2, nil).ImportFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 2 || report.GeneratedIDs != 1 || report.WithoutEmbedding != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestImportFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewImporter(newStore(t), 2, nil).ImportFile(context.Background(), path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestParseEmbedding(t *testing.T) {
	tests := []struct {
		in      string
		want    []float32
		wantErr bool
	}{
		{"", nil, false},
		{"[1, 2.5, -3]", []float32{1, 2.5, -3}, false},
		{"1,2.5,-3", []float32{1, 2.5, -3}, false},
		{"1 2.5\t-3", []float32{1, 2.5, -3}, false},
		{"1; 2.5; -3", []float32{1, 2.5, -3}, false},
		{"[1, 2", nil, true},
		{"1, two", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseEmbedding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEmbedding(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseEmbedding(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
