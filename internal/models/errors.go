package models

import "errors"

var (
	// ErrDimensionMismatch signals a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrCorpusUnavailable signals that the reference dataset could not be read.
	ErrCorpusUnavailable = errors.New("reference corpus unavailable")
	// ErrSearchUnavailable signals that no index has been built yet.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrInvalidWeightConfig signals a rejected weight update.
	ErrInvalidWeightConfig = errors.New("invalid weight config")
	// ErrCaseNotFound signals a missing reference case.
	ErrCaseNotFound = errors.New("case not found")
	// ErrInvalidQuery signals a malformed search query.
	ErrInvalidQuery = errors.New("invalid query")
)
