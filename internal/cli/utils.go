// Package cli provides output helpers for the dermamatch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/dermamatch/internal/ingest"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseOutputFormat maps a flag value to an OutputFormat. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a search response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d similar cases in %dms (%d candidates, %d over-fetch rounds)\n",
		len(response.Results), response.QueryTime, response.Candidates, response.OverFetchRounds)
	if response.PartialResults {
		fmt.Fprintln(w, "Note: fewer matches than requested passed the condition filter.")
	}
	if response.LowConfidence {
		fmt.Fprintln(w, "Note: some feature groups were padded, truncated or sanitized.")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "#%d  %s  score %s  distance %.4f\n",
		result.Rank, result.CaseID, utils.FormatScore(result.SimilarityScore), result.Distance)
	if result.ConditionLabel != "" {
		fmt.Fprintf(w, "    condition: %s\n", utils.Truncate(result.ConditionLabel, 60))
	}
	if b := result.Breakdown; b != nil {
		fmt.Fprintf(w, "    base %.4f + bonus %.4f (agreement %.2f, raw %.4f)\n",
			b.BaseSimilarity, b.Bonus, b.Agreement, b.Raw)
		for _, f := range b.Fields {
			mark := "✗"
			if f.Matched {
				mark = "✓"
			}
			fmt.Fprintf(w, "      %s %-10s weight %.2f\n", mark, f.Field, f.Weight)
		}
	}
}

// WriteRebuildReport writes the outcome of a corpus rebuild.
func WriteRebuildReport(w io.Writer, report *models.RebuildReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Rebuilt index in %dms: %d records read, %d indexed, %d skipped\n",
		report.Duration, report.TotalRecords, report.IndexedRecords, report.SkippedRecords)
	return nil
}

// WriteImportReport writes the outcome of a reference case import.
func WriteImportReport(w io.Writer, report *ingest.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Imported %d of %d rows (%d rejected, %d without embedding, %d generated IDs)\n",
		report.Imported, report.Read, report.Rejected, report.WithoutEmbedding, report.GeneratedIDs)
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	return nil
}

// WriteStatus writes the engine status.
func WriteStatus(w io.Writer, status search.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	state := "not ready"
	if status.Ready {
		state = "ready"
	}
	fmt.Fprintf(w, "Engine:      %s\n", state)
	fmt.Fprintf(w, "Corpus:      %s\n", orDash(status.CorpusSource))
	fmt.Fprintf(w, "Index:       %s, %d vectors, %d dimensions\n", orDash(status.IndexType), status.IndexSize, status.Dimensions)
	if len(status.FeatureGroups) > 0 {
		groups := make([]string, len(status.FeatureGroups))
		for i, g := range status.FeatureGroups {
			groups[i] = fmt.Sprintf("%s[%d]", g.Name, g.Size)
		}
		fmt.Fprintf(w, "Features:    %s\n", strings.Join(groups, " "))
	}
	if status.BuiltAt != nil {
		fmt.Fprintf(w, "Built at:    %s\n", status.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	if r := status.LastRebuild; r != nil {
		fmt.Fprintf(w, "Last build:  %d indexed, %d skipped of %d\n", r.IndexedRecords, r.SkippedRecords, r.TotalRecords)
	}
	wc := status.Weights
	fmt.Fprintf(w, "Weights:     demographic %.2f (ethnicity %.2f, skin type %.2f, age group %.2f)\n",
		wc.DemographicWeight, wc.EthnicityWeight, wc.SkinTypeWeight, wc.AgeGroupWeight)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
