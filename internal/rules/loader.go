package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
)

// RuleSetsCollection holds rule set documents.
const RuleSetsCollection = "rulesets"

// RuleSetSource queries rule set documents.
type RuleSetSource interface {
	QueryDocs(ctx context.Context, q queryir.Query) ([]ir.Document, error)
}

// Filter narrows the rule sets a trigger loads. Empty fields match
// anything.
type Filter struct {
	Collection string
	Method     string
	EndPoint   string
}

// Loader reads active rule sets of one type.
type Loader struct {
	src    RuleSetSource
	logger *slog.Logger
}

// NewLoader creates a loader over src.
func NewLoader(src RuleSetSource, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{src: src, logger: logger}
}

// Load returns the active rule sets of ruleType matching f, in store order.
// A document that does not decode as a rule set is logged and skipped.
func (l *Loader) Load(ctx context.Context, ruleType ir.RuleType, f Filter) ([]ir.RuleSet, error) {
	q := queryir.From(RuleSetsCollection).
		Where("active", queryir.OpEqual, true).
		Where("ruleType", queryir.OpEqual, string(ruleType))
	if f.Collection != "" {
		q = q.Where("filters.collection", queryir.OpEqual, f.Collection)
	}

	docs, err := l.src.QueryDocs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load %s rule sets: %w", ruleType, err)
	}

	var out []ir.RuleSet
	for _, doc := range docs {
		rs, err := DecodeRuleSet(doc)
		if err != nil {
			l.logger.Error("skipping rule set", "id", doc.ID, "error", err)
			continue
		}
		if f.Method != "" && !strings.EqualFold(rs.Filters.Method, f.Method) {
			continue
		}
		if f.EndPoint != "" && rs.Filters.EndPoint != f.EndPoint {
			continue
		}
		out = append(out, rs)
	}
	return out, nil
}

// DecodeRuleSet decodes a stored rule set document. The raw body is used
// when present so actions and additional facts keep their written order.
func DecodeRuleSet(doc ir.Document) (ir.RuleSet, error) {
	raw := []byte(doc.Raw)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(doc.Data); err != nil {
			return ir.RuleSet{}, err
		}
	}
	var rs ir.RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return ir.RuleSet{}, &ConfigError{RuleSet: doc.ID, Message: err.Error()}
	}
	rs.ID = doc.ID
	return rs, nil
}

// Label names a rule set in logs: its title, else its id.
func Label(rs ir.RuleSet) string {
	if rs.Title != "" {
		return rs.Title
	}
	return rs.ID
}
