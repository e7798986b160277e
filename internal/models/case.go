// Package models defines core data structures for reference cases, queries, and search results.
package models

import (
	"strings"
	"time"
)

// DemographicField names one categorical demographic attribute.
type DemographicField string

const (
	// FieldEthnicity is the ethnicity attribute.
	FieldEthnicity DemographicField = "ethnicity"
	// FieldSkinType is the skin type attribute (e.g. Fitzpatrick class).
	FieldSkinType DemographicField = "skin_type"
	// FieldAgeGroup is the age bracket attribute.
	FieldAgeGroup DemographicField = "age_group"
)

// DemographicFields lists every demographic field in scoring order.
var DemographicFields = []DemographicField{FieldEthnicity, FieldSkinType, FieldAgeGroup}

// Demographics holds optional categorical attributes. An empty value means absent.
type Demographics struct {
	Ethnicity string `json:"ethnicity,omitempty" yaml:"ethnicity,omitempty"`
	SkinType  string `json:"skin_type,omitempty" yaml:"skin_type,omitempty"`
	AgeGroup  string `json:"age_group,omitempty" yaml:"age_group,omitempty"`
}

// Get returns the normalized value of field and whether it is populated.
func (d Demographics) Get(field DemographicField) (string, bool) {
	var v string
	switch field {
	case FieldEthnicity:
		v = d.Ethnicity
	case FieldSkinType:
		v = d.SkinType
	case FieldAgeGroup:
		v = d.AgeGroup
	}
	v = normalizeCategory(v)
	return v, v != ""
}

// IsEmpty reports whether no field is populated.
func (d Demographics) IsEmpty() bool {
	for _, f := range DemographicFields {
		if _, ok := d.Get(f); ok {
			return false
		}
	}
	return true
}

func normalizeCategory(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// ReferenceCase is one annotated case of the reference corpus. It is immutable once ingested.
type ReferenceCase struct {
	CaseID         string       `json:"case_id" db:"case_id"`
	ConditionLabel string       `json:"condition_label" db:"condition_label"`
	Demographics   Demographics `json:"demographics" db:"-"`
	Embedding      []float32    `json:"-" db:"embedding"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// HasEmbedding reports whether the case carries a non-empty embedding.
func (c *ReferenceCase) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ReferenceCaseInput is the input for importing a reference case.
type ReferenceCaseInput struct {
	CaseID         string       `json:"case_id,omitempty" yaml:"case_id,omitempty"`
	ConditionLabel string       `json:"condition_label" yaml:"condition_label"`
	Demographics   Demographics `json:"demographics,omitempty" yaml:"demographics,omitempty"`
	Embedding      []float32    `json:"embedding" yaml:"embedding"`
}

// ToCase converts the input to a ReferenceCase, copying the embedding.
func (in ReferenceCaseInput) ToCase() *ReferenceCase {
	c := &ReferenceCase{
		CaseID:         strings.TrimSpace(in.CaseID),
		ConditionLabel: strings.TrimSpace(in.ConditionLabel),
		Demographics:   in.Demographics,
	}
	if len(in.Embedding) > 0 {
		c.Embedding = append([]float32(nil), in.Embedding...)
	}
	return c
}
