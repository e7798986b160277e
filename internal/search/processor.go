package search

import (
	"strings"

	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/models"
)

// ProcessQuery fills request defaults and validates the query against cfg. A zero k takes
// cfg.DefaultK; an empty filter is dropped.
func ProcessQuery(query *models.SearchQuery, cfg config.SearchConfig) error {
	if query.K == 0 {
		query.K = cfg.DefaultK
	}
	if query.Filters != nil {
		query.Filters.ConditionLabel = strings.TrimSpace(query.Filters.ConditionLabel)
		if query.Filters.IsEmpty() {
			query.Filters = nil
		}
	}
	return query.Validate(cfg.MaxK)
}
