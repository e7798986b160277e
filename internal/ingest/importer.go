// Package ingest imports reference cases from spreadsheets and fixture files into the case store.
package ingest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/storage"
)

// SupportedExtensions lists the file types ImportFile accepts.
var SupportedExtensions = []string{".xlsx", ".yaml", ".yml", ".json"}

// Report summarizes an import.
type Report struct {
	Read     int `json:"read"`
	Imported int `json:"imported"`
	Rejected int `json:"rejected"`
	// WithoutEmbedding counts imported cases that will be excluded from the index until they get one.
	WithoutEmbedding int      `json:"without_embedding"`
	GeneratedIDs     int      `json:"generated_ids"`
	Errors           []string `json:"errors,omitempty"`
}

// Importer validates reference case inputs and upserts them into a store.
type Importer struct {
	store      storage.Storage
	dimensions int
	logger     *zap.Logger
}

// NewImporter creates an importer. Embeddings whose length is not dimensions are rejected.
func NewImporter(store storage.Storage, dimensions int, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, dimensions: dimensions, logger: logger}
}

// ImportFile reads cases from an .xlsx, .yaml/.yml or .json file and imports them.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var (
		inputs  []models.ReferenceCaseInput
		rowErrs []error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		inputs, rowErrs, err = decodeXLSX(content)
	case ".yaml", ".yml", ".json":
		inputs, err = corpus.DecodeCases(content)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	report, err := im.Import(ctx, inputs)
	if err != nil {
		return nil, err
	}
	report.Read += len(rowErrs)
	report.Rejected += len(rowErrs)
	for _, e := range rowErrs {
		report.Errors = append(report.Errors, e.Error())
	}
	im.logger.Info("import finished",
		zap.String("path", path),
		zap.Int("read", report.Read),
		zap.Int("imported", report.Imported),
		zap.Int("rejected", report.Rejected),
	)
	return report, nil
}

// Import validates inputs and upserts the valid ones in a single transaction. Cases without an
// ID get a random UUID. Invalid inputs are reported, not fatal.
func (im *Importer) Import(ctx context.Context, inputs []models.ReferenceCaseInput) (*Report, error) {
	report := &Report{Read: len(inputs)}
	cases := make([]*models.ReferenceCase, 0, len(inputs))
	for i, in := range inputs {
		c := in.ToCase()
		if c.CaseID == "" {
			c.CaseID = uuid.NewString()
			report.GeneratedIDs++
		}
		if err := im.validate(c); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, fmt.Sprintf("record %d (%s): %v", i+1, c.CaseID, err))
			continue
		}
		if !c.HasEmbedding() {
			report.WithoutEmbedding++
		}
		cases = append(cases, c)
	}
	if len(cases) > 0 {
		if err := im.store.BatchUpsertCases(ctx, cases); err != nil {
			return nil, fmt.Errorf("store cases: %w", err)
		}
	}
	report.Imported = len(cases)
	return report, nil
}

func (im *Importer) validate(c *models.ReferenceCase) error {
	if c.ConditionLabel == "" {
		return fmt.Errorf("condition_label is required")
	}
	if !c.HasEmbedding() {
		return nil
	}
	if len(c.Embedding) != im.dimensions {
		return fmt.Errorf("%w: embedding has %d components, expected %d",
			models.ErrDimensionMismatch, len(c.Embedding), im.dimensions)
	}
	for _, v := range c.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains non-finite values")
		}
	}
	return nil
}
