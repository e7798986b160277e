package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMeasureFootprint(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cases.db")
	index := filepath.Join(dir, "cases.idx")

	// Nothing on disk yet
	fp, err := MeasureFootprint(db, index)
	if err != nil {
		t.Fatal(err)
	}
	if fp.Total() != 0 {
		t.Errorf("empty: got %+v", fp)
	}

	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(db+"-wal", []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(index, []byte("xyz"), 0644); err != nil {
		t.Fatal(err)
	}
	fp, err = MeasureFootprint(db, index)
	if err != nil {
		t.Fatal(err)
	}
	if fp.DatabaseBytes != 7 {
		t.Errorf("database with WAL: got %d bytes, want 7", fp.DatabaseBytes)
	}
	if fp.IndexBytes != 3 {
		t.Errorf("index: got %d bytes, want 3", fp.IndexBytes)
	}
	if fp.Total() != 10 {
		t.Errorf("total: got %d, want 10", fp.Total())
	}

	// Empty index path is skipped
	fp, err = MeasureFootprint(db, "")
	if err != nil {
		t.Fatal(err)
	}
	if fp.IndexBytes != 0 || fp.DatabaseBytes != 7 {
		t.Errorf("without index: got %+v", fp)
	}
}
