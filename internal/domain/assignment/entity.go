// Package assignment contains the sticky variant assignment aggregate and the
// weighted bucketing algorithm that selects a variant for a fresh subject.
package assignment

import (
	"time"
)

// Source records how an assignment came to be.
type Source string

const (
	// SourceRandom means the variant was selected by the weighted draw.
	SourceRandom Source = "random"

	// SourceForced means an operator pinned the variant explicitly.
	SourceForced Source = "forced"

	// SourceExternal means an external flag provider supplied the variant.
	SourceExternal Source = "external"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceRandom, SourceForced, SourceExternal:
		return true
	}
	return false
}

// Assignment is the durable mapping (experiment, subject) -> variant.
// Once created it is stable for its key until an explicit force or reset;
// there is no silent re-randomization.
type Assignment struct {
	ExperimentName string    `json:"experiment_name"`
	SubjectID      string    `json:"subject_id"`
	VariantName    string    `json:"variant_name"`
	Source         Source    `json:"source"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// New creates an assignment stamped with the current UTC time.
func New(experimentName, subjectID, variantName string, source Source) Assignment {
	return Assignment{
		ExperimentName: experimentName,
		SubjectID:      subjectID,
		VariantName:    variantName,
		Source:         source,
		AssignedAt:     time.Now().UTC(),
	}
}
