// Package screening turns scanner candidates into ScreeningResult
// rows: resolve extension to category, evaluate filter rules in
// priority order, persist through the store, and publish
// screening-result-updated (throttled by the bus) when anything
// actually changed. Grounded on the teacher's
// `internal/events/distributor.go` typed-listener fan-out, adapted to
// key dispatch on event name with the bus's Throttle strategy instead
// of a generic filter-chain.
package screening

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/scanner"
	"knowledge-engine/internal/store"
)

// Store is the subset of store.Store the pipeline depends on.
type Store interface {
	CategoryForExtension(ctx context.Context, ext string) (string, error)
	ListFilterRules(ctx context.Context) ([]*enginetypes.FilterRule, error)
	UpsertScreeningResult(ctx context.Context, r *enginetypes.ScreeningResult) (*store.UpsertResult, error)
	MarkDeleted(ctx context.Context, filePath string) error
}

// Pipeline screens scanner candidates into screening results.
type Pipeline struct {
	store  Store
	bus    *events.EventBus
	logger logging.Logger
}

// New constructs a Pipeline.
func New(store Store, bus *events.EventBus, logger logging.Logger) *Pipeline {
	return &Pipeline{store: store, bus: bus, logger: logger}
}

// Process evaluates one candidate: resolve its category, run filter
// rules, and persist a ScreeningResult if no rule excludes it. An
// `exclude` match short-circuits with no persistence, per spec.md §4.5.
func (p *Pipeline) Process(ctx context.Context, c scanner.Candidate) error {
	rules, err := p.store.ListFilterRules(ctx)
	if err != nil {
		return fmt.Errorf("screening: list filter rules: %w", err)
	}

	for _, rule := range rules {
		matched, err := ruleMatches(rule, c)
		if err != nil {
			p.logger.Warn("screening: rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if rule.Action == enginetypes.ActionExclude {
			return nil
		}
		break // first matching include rule wins; default is include
	}

	categoryID, err := p.store.CategoryForExtension(ctx, c.Extension)
	if err != nil {
		return fmt.Errorf("screening: category lookup: %w", err)
	}

	result := &enginetypes.ScreeningResult{
		FilePath:     c.Path,
		FileName:     c.Name,
		Extension:    c.Extension,
		Size:         c.Size,
		ModifiedTime: c.ModTime,
		CategoryID:   categoryID,
	}

	upserted, err := p.store.UpsertScreeningResult(ctx, result)
	if err != nil {
		return fmt.Errorf("screening: upsert: %w", err)
	}
	if !upserted.Changed {
		return nil // fingerprint unchanged: no event, per the idempotency invariant
	}

	if p.bus != nil {
		_ = p.bus.Publish(events.NewEvent(events.ScreeningResultUpdated, upserted.Result))
	}
	return nil
}

// MarkGone soft-deletes a path the scanner no longer sees.
func (p *Pipeline) MarkGone(ctx context.Context, path string) error {
	return p.store.MarkDeleted(ctx, path)
}

// ruleMatches evaluates one FilterRule against a candidate.
func ruleMatches(rule *enginetypes.FilterRule, c scanner.Candidate) (bool, error) {
	var subject string
	switch rule.RuleType {
	case enginetypes.RuleTypeExtension:
		subject = c.Extension
	case enginetypes.RuleTypeFilename:
		subject = c.Name
	case enginetypes.RuleTypePath:
		subject = c.Path
	case enginetypes.RuleTypeSize:
		return sizeMatches(rule.Pattern, c.Size)
	default:
		return false, nil
	}

	switch rule.PatternType {
	case enginetypes.PatternTypeExact:
		return strings.EqualFold(subject, rule.Pattern), nil
	case enginetypes.PatternTypeGlob:
		return filepath.Match(rule.Pattern, subject)
	case enginetypes.PatternTypeRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(subject), nil
	default:
		return false, nil
	}
}

// sizeMatches interprets Pattern as "<op><bytes>", e.g. ">1048576" or
// "<=0". Supported operators: >, >=, <, <=, =.
func sizeMatches(pattern string, size int64) (bool, error) {
	ops := []string{">=", "<=", ">", "<", "="}
	for _, op := range ops {
		if strings.HasPrefix(pattern, op) {
			threshold, err := strconv.ParseInt(strings.TrimSpace(pattern[len(op):]), 10, 64)
			if err != nil {
				return false, err
			}
			switch op {
			case ">=":
				return size >= threshold, nil
			case "<=":
				return size <= threshold, nil
			case ">":
				return size > threshold, nil
			case "<":
				return size < threshold, nil
			default:
				return size == threshold, nil
			}
		}
	}
	return false, fmt.Errorf("screening: unrecognized size pattern %q", pattern)
}
