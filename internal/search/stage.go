package search

import "fmt"

// Stage names a step of a similarity search. A search moves forward through the stages in
// order and never backwards; any failure ends it in StageFailed.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageFused        Stage = "FUSED"
	StageIndexQueried Stage = "INDEX_QUERIED"
	StageWeighted     Stage = "WEIGHTED"
	StageSorted       Stage = "SORTED"
	StageReturned     Stage = "RETURNED"
	StageFailed       Stage = "FAILED"
)

// StageError reports the stage a search could not complete. It unwraps to the original error.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("search failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
