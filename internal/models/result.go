package models

// FieldMatch records how one demographic field contributed to a score.
type FieldMatch struct {
	Field   DemographicField `json:"field"`
	Matched bool             `json:"matched"`
	// Weight is the component weight after renormalization over the compared fields.
	Weight float64 `json:"weight"`
}

// ScoreBreakdown explains a similarity score field by field.
type ScoreBreakdown struct {
	BaseSimilarity float64 `json:"base_similarity"`
	Agreement      float64 `json:"agreement"`
	Bonus          float64 `json:"bonus"`
	// Raw is base + bonus before clamping; it breaks ties between saturated scores.
	Raw    float64      `json:"raw"`
	Fields []FieldMatch `json:"fields,omitempty"`
}

// SearchResult is a single ranked reference case.
type SearchResult struct {
	CaseID          string          `json:"case_id"`
	ConditionLabel  string          `json:"condition_label,omitempty"`
	Distance        float64         `json:"distance"`
	SimilarityScore float64         `json:"similarity_score"`
	Rank            int             `json:"rank"`
	Breakdown       *ScoreBreakdown `json:"breakdown,omitempty"`
}

// SearchResponse is the response for a similarity search.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	// PartialResults is set when a filter left fewer than k matches after all over-fetch rounds.
	PartialResults bool `json:"partial_results,omitempty"`
	// LowConfidence is set when fusion had to pad, truncate, or sanitize a feature group.
	LowConfidence   bool  `json:"low_confidence,omitempty"`
	OverFetchRounds int   `json:"overfetch_rounds"`
	Candidates      int   `json:"candidates"`
	QueryTime       int64 `json:"query_time_ms"`
}

// RebuildReport summarizes a corpus rebuild.
type RebuildReport struct {
	TotalRecords   int   `json:"total_records"`
	IndexedRecords int   `json:"indexed_records"`
	SkippedRecords int   `json:"skipped_records"`
	Duration       int64 `json:"duration_ms"`
}
