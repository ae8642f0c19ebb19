package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

// FrequencyMatcher decides which threshold band, if any, a violation type's
// occurrence count lands on.
type FrequencyMatcher struct {
	logger *zap.Logger
}

// NewFrequencyMatcher constructs a matcher.
func NewFrequencyMatcher(logger *zap.Logger) *FrequencyMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrequencyMatcher{logger: logger}
}

// Match returns the rule matching the given occurrence count, nil when none
// applies. Rules are evaluated in display order; a well-formed rule set
// matches at most once. When legacy data still overlaps, the rule with the
// lowest display order wins and the conflict is logged for operators.
func (m *FrequencyMatcher) Match(rules []models.FrequencyRule, frequency int) *models.FrequencyRule {
	if frequency <= 0 || len(rules) == 0 {
		return nil
	}

	ordered := make([]models.FrequencyRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	var matched []models.FrequencyRule
	for _, rule := range ordered {
		if ruleMatches(rule, frequency) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if len(matched) > 1 {
		ids := make([]string, len(matched))
		for i, rule := range matched {
			ids[i] = rule.ID
		}
		m.logger.Warn("ambiguous frequency rules, using lowest display order",
			zap.String("violation_type_id", matched[0].ViolationTypeID),
			zap.Int("frequency", frequency),
			zap.Strings("rule_ids", ids))
	}
	winner := matched[0]
	return &winner
}

func ruleMatches(rule models.FrequencyRule, frequency int) bool {
	if rule.FrequencyMin <= 0 {
		return false
	}
	switch {
	case rule.FrequencyMax == nil:
		// Open-ended band: matches from the first crossing onward.
		return frequency >= rule.FrequencyMin
	case *rule.FrequencyMax == rule.FrequencyMin:
		// Repeating trigger at every multiple.
		return frequency%rule.FrequencyMin == 0
	default:
		// One-shot escalation threshold.
		return frequency == *rule.FrequencyMax
	}
}

// ValidateRuleSet rejects rule sets where two rules could ever match the same
// occurrence count, so the incremental crossing detection stays sound. Each
// rule is classified as open-ended, repeating, or one-shot and checked
// pairwise without scanning frequencies.
func ValidateRuleSet(rules []models.FrequencyRule) error {
	for i, rule := range rules {
		if rule.FrequencyMin < 1 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("rule %d: frequency_min must be at least 1", i+1))
		}
		if rule.FrequencyMax != nil && *rule.FrequencyMax < rule.FrequencyMin {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("rule %d: frequency_max below frequency_min", i+1))
		}
		if rule.TriggersLetter {
			if rule.LetterLevel < 1 || rule.LetterLevel > 4 {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("rule %d: letter_level must be 1..4", i+1))
			}
		} else if rule.LetterLevel != 0 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("rule %d: letter_level set without triggers_letter", i+1))
		}
		for _, role := range rule.SupervisorRoles {
			if !models.IsKnownSupervisorRole(role) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("rule %d: unknown supervisor role %q", i+1, role))
			}
		}
	}
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			if rulesOverlap(rules[i], rules[j]) {
				return appErrors.Clone(appErrors.ErrAmbiguousRules,
					fmt.Sprintf("rules %d and %d can match the same frequency", i+1, j+1))
			}
		}
	}
	return nil
}

func rulesOverlap(a, b models.FrequencyRule) bool {
	aOpen, aRepeat := classifyRule(a)
	bOpen, bRepeat := classifyRule(b)

	switch {
	case aOpen && bOpen:
		return true
	case aOpen && bRepeat:
		return true
	case bOpen && aRepeat:
		return true
	case aOpen:
		return *b.FrequencyMax >= a.FrequencyMin
	case bOpen:
		return *a.FrequencyMax >= b.FrequencyMin
	case aRepeat && bRepeat:
		return true
	case aRepeat:
		return *b.FrequencyMax%a.FrequencyMin == 0
	case bRepeat:
		return *a.FrequencyMax%b.FrequencyMin == 0
	default:
		return *a.FrequencyMax == *b.FrequencyMax
	}
}

func classifyRule(rule models.FrequencyRule) (open, repeat bool) {
	if rule.FrequencyMax == nil {
		return true, false
	}
	if *rule.FrequencyMax == rule.FrequencyMin {
		return false, true
	}
	return false, false
}
