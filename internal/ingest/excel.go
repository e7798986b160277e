package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/dermamatch/internal/models"
)

// column aliases accepted in the header row, lower-cased.
var columnAliases = map[string]string{
	"case_id":         "case_id",
	"id":              "case_id",
	"condition_label": "condition_label",
	"condition":       "condition_label",
	"label":           "condition_label",
	"ethnicity":       "ethnicity",
	"skin_type":       "skin_type",
	"fitzpatrick":     "skin_type",
	"age_group":       "age_group",
	"embedding":       "embedding",
}

// decodeXLSX reads cases from the first sheet of a workbook. The first row is a header naming
// the columns; blank rows are skipped. Rows that cannot be parsed are returned as errors.
func decodeXLSX(content []byte) ([]models.ReferenceCaseInput, []error, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	columns := make(map[string]int)
	for i, name := range rows[0] {
		if field, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			columns[field] = i
		}
	}
	if _, ok := columns["condition_label"]; !ok {
		return nil, nil, fmt.Errorf("sheet %q: header has no condition_label column", sheets[0])
	}

	var (
		inputs  []models.ReferenceCaseInput
		rowErrs []error
	)
	for n, row := range rows[1:] {
		cell := func(field string) string {
			i, ok := columns[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		embedding, err := ParseEmbedding(cell("embedding"))
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", n+2, err))
			continue
		}
		inputs = append(inputs, models.ReferenceCaseInput{
			CaseID:         cell("case_id"),
			ConditionLabel: cell("condition_label"),
			Demographics: models.Demographics{
				Ethnicity: cell("ethnicity"),
				SkinType:  cell("skin_type"),
				AgeGroup:  cell("age_group"),
			},
			Embedding: embedding,
		})
	}
	return inputs, rowErrs, nil
}

// ParseEmbedding parses a JSON array or a list of floats separated by commas, semicolons or
// whitespace. An empty string is an absent embedding.
func ParseEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var out []float32
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("invalid embedding array: %w", err)
		}
		return out, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float32, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding component %q", field)
		}
		out = append(out, float32(v))
	}
	return out, nil
}
