package lifecycle

import (
	"fmt"
	"strings"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Strategy is the management strategy of one resource kind. The set of
// implementations is closed: Fixed, ByName and ByTag.
type Strategy interface {
	// Name returns the persisted strategy name.
	Name() string

	sealed()
}

// Fixed applies a single retention horizon to every resource of the kind.
type Fixed struct {
	RetentionDays int
	AlertLeadDays int
}

// Affix is the position of the class token within a resource name.
type Affix string

const (
	AffixPrefix Affix = "PREFIX"
	AffixSuffix Affix = "SUFFIX"
	AffixInfix  Affix = "INFIX"
)

// ParseAffix parses an affix position case-insensitively.
func ParseAffix(s string) (Affix, error) {
	switch a := Affix(strings.ToUpper(strings.TrimSpace(s))); a {
	case AffixPrefix, AffixSuffix, AffixInfix:
		return a, nil
	}
	return "", fmt.Errorf("unknown affix position %q", s)
}

// ByName derives the class value from a segment of the resource name.
type ByName struct {
	Separator string
	Affix     Affix
	Classes   []ClassValue
	Irregular IrregularFormat
}

// ByTag derives the class value from a resource tag.
type ByTag struct {
	TagKey    string
	Classes   []ClassValue
	Irregular IrregularFormat
}

func (Fixed) Name() string  { return engine.StrategyFixed }
func (ByName) Name() string { return engine.StrategyByName }
func (ByTag) Name() string  { return engine.StrategyByTag }

func (Fixed) sealed()  {}
func (ByName) sealed() {}
func (ByTag) sealed()  {}

// Window is a retention or idle threshold with its alert lead.
type Window struct {
	Enabled       bool
	Days          int
	AlertLeadDays int
}

// ClassValue is one allowed classification token and its sub-policy.
// Retention takes precedence over Idle when both are enabled.
type ClassValue struct {
	Label     string
	Retention Window
	Idle      Window

	// BackupDays is how long backups of retired resources of this class are kept.
	// Nil falls back to the store default.
	BackupDays *int
}

// IrregularFormat controls resources whose class token is not an allowed value.
type IrregularFormat struct {
	Quarantine     bool
	QuarantineDays int
}

// Policy binds a strategy to a resource kind.
type Policy struct {
	Kind     engine.Kind
	Strategy Strategy
}

// Classes returns the class values of a class-based strategy, or nil for Fixed.
func Classes(s Strategy) []ClassValue {
	switch v := s.(type) {
	case ByName:
		return v.Classes
	case ByTag:
		return v.Classes
	}
	return nil
}

// LookupClass finds the class value for token, comparing upper-cased labels.
func LookupClass(classes []ClassValue, token string) (ClassValue, bool) {
	token = strings.ToUpper(token)
	for _, c := range classes {
		if strings.ToUpper(c.Label) == token {
			return c, true
		}
	}
	return ClassValue{}, false
}

// BackupDays returns the backup retention for class label under s.
func BackupDays(s Strategy, label string) (int, bool) {
	c, ok := LookupClass(Classes(s), label)
	if !ok || c.BackupDays == nil {
		return 0, false
	}
	return *c.BackupDays, true
}

// Classify extracts the class token from name. The name is upper-cased before
// splitting. Interior segments are scanned for INFIX; names without interior
// segments yield the unclassified label.
func Classify(name, separator string, affix Affix, allowed []string) string {
	upper := strings.ToUpper(name)
	var parts []string
	if separator == "" {
		parts = []string{upper}
	} else {
		parts = strings.Split(upper, strings.ToUpper(separator))
	}

	switch affix {
	case AffixPrefix:
		return parts[0]
	case AffixSuffix:
		return parts[len(parts)-1]
	case AffixInfix:
		if len(parts) < 3 {
			return engine.LabelUnclassified
		}
		for _, part := range parts[1 : len(parts)-1] {
			for _, v := range allowed {
				if part == strings.ToUpper(v) {
					return part
				}
			}
		}
	}
	return engine.LabelUnclassified
}

func labels(classes []ClassValue) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = strings.ToUpper(c.Label)
	}
	return out
}
