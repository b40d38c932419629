package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/lifecycle"
)

// ErrUnknownStrategy is returned for a management strategy that is not
// FIXED, BY_NAME or BY_TAG (or one of their aliases).
var ErrUnknownStrategy = errors.New("unknown management strategy")

var strategyAliases = map[string]string{
	"FIXED":         engine.StrategyFixed,
	"UNIQUE":        engine.StrategyFixed,
	"BY_NAME":       engine.StrategyByName,
	"RESOURCE_NAME": engine.StrategyByName,
	"BY_TAG":        engine.StrategyByTag,
	"TAG":           engine.StrategyByTag,
}

func canonicalStrategy(s string) (string, bool) {
	name, ok := strategyAliases[strings.ToUpper(strings.TrimSpace(s))]
	return name, ok
}

// KindPolicy is the decoded policy of one monitored kind. Err is set when
// the strategy could not be decoded; Strategy then carries the raw name for
// unknown records.
type KindPolicy struct {
	Policy   lifecycle.Policy
	Strategy string
	Err      error
}

// Policies is the set of enabled kinds and their decoded policies.
type Policies struct {
	Kinds  []engine.Kind
	ByKind map[engine.Kind]KindPolicy
}

// Get returns the policy of kind.
func (p Policies) Get(kind engine.Kind) (KindPolicy, bool) {
	kp, ok := p.ByKind[kind]
	return kp, ok
}

// ToPolicies converts the enabled monitoring entries into lifecycle policies.
// A kind whose strategy is unknown is kept with Err set so that other kinds
// can still be evaluated.
func (d *Document) ToPolicies() (Policies, error) {
	out := Policies{ByKind: make(map[engine.Kind]KindPolicy)}

	for key, mc := range d.Monitoring {
		if !mc.Enabled {
			continue
		}
		kind, err := engine.ParseKind(key)
		if err != nil {
			return Policies{}, fmt.Errorf("monitoring.%s: %w", key, err)
		}

		strategy, err := ParseStrategy(mc.Lifecycle)
		kp := KindPolicy{Strategy: mc.Lifecycle.Strategy, Err: err}
		if err == nil {
			kp.Policy = lifecycle.Policy{Kind: kind, Strategy: strategy}
			kp.Strategy = strategy.Name()
		} else if !errors.Is(err, ErrUnknownStrategy) {
			return Policies{}, fmt.Errorf("monitoring.%s: %w", key, err)
		}

		out.Kinds = append(out.Kinds, kind)
		out.ByKind[kind] = kp
	}

	sort.Slice(out.Kinds, func(i, j int) bool { return out.Kinds[i] < out.Kinds[j] })
	return out, nil
}

// ParseStrategy decodes a lifecycle block into a typed strategy.
func ParseStrategy(lc LifecycleConfig) (lifecycle.Strategy, error) {
	name, ok := canonicalStrategy(lc.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, lc.Strategy)
	}

	switch name {
	case engine.StrategyFixed:
		return lifecycle.Fixed{RetentionDays: lc.RetentionDays, AlertLeadDays: lc.AlertLeadDays}, nil

	case engine.StrategyByName:
		affix, err := lifecycle.ParseAffix(lc.Affix)
		if err != nil {
			return nil, err
		}
		return lifecycle.ByName{
			Separator: lc.Separator,
			Affix:     affix,
			Classes:   classValues(lc.Classes),
			Irregular: irregular(lc.IrregularFormat),
		}, nil

	default:
		return lifecycle.ByTag{
			TagKey:    lc.TagKey,
			Classes:   classValues(lc.Classes),
			Irregular: irregular(lc.IrregularFormat),
		}, nil
	}
}

func classValues(classes []ClassConfig) []lifecycle.ClassValue {
	out := make([]lifecycle.ClassValue, 0, len(classes))
	for _, c := range classes {
		cv := lifecycle.ClassValue{
			Label: strings.ToUpper(strings.TrimSpace(c.Label)),
			Retention: lifecycle.Window{
				Enabled:       c.Retention.Enabled,
				Days:          c.Retention.Days,
				AlertLeadDays: c.Retention.AlertLeadDays,
			},
			Idle: lifecycle.Window{
				Enabled:       c.Idle.Enabled,
				Days:          c.Idle.IdleDays,
				AlertLeadDays: c.Idle.AlertLeadDays,
			},
		}
		if c.BackupDays != nil {
			days := *c.BackupDays
			cv.BackupDays = &days
		}
		out = append(out, cv)
	}
	return out
}

func irregular(ic IrregularConfig) lifecycle.IrregularFormat {
	return lifecycle.IrregularFormat{Quarantine: ic.Quarantine, QuarantineDays: ic.QuarantineDays}
}

// LegacyPolicy converts the legacy block.
func (d *Document) LegacyPolicy() (lifecycle.Legacy, error) {
	if !d.Legacy.Enabled {
		return lifecycle.Legacy{}, nil
	}
	start, err := engine.ParseDate(d.Legacy.ReferenceStartDate)
	if err != nil {
		return lifecycle.Legacy{}, fmt.Errorf("legacy.reference_start_date: %w", err)
	}
	return lifecycle.Legacy{
		Enabled:            true,
		AdequacyTermDays:   d.Legacy.AdequacyTermDays,
		ReferenceStartDate: start,
	}, nil
}

// Reserved returns the reserved set including configured extras.
func (d *Document) Reserved() engine.ReservedSet {
	return engine.NewReservedSet(d.Runtime.ReservedNames...)
}

// Evaluator builds the lifecycle evaluator configured by d.
func (d *Document) Evaluator() (lifecycle.Evaluator, error) {
	legacy, err := d.LegacyPolicy()
	if err != nil {
		return lifecycle.Evaluator{}, err
	}
	return lifecycle.Evaluator{Reserved: d.Reserved(), Legacy: legacy}, nil
}

// BackupRetention returns the retention in days of a backup of class label
// of kind, falling back to the backup default.
func (p Policies) BackupRetention(kind engine.Kind, label string, fallback int) int {
	if kp, ok := p.ByKind[kind]; ok && kp.Err == nil {
		if days, ok := lifecycle.BackupDays(kp.Policy.Strategy, label); ok {
			return days
		}
	}
	return fallback
}
