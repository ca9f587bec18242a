// Package responder implements the capability-bounded responder variants
// and the black-box generation backend behind them.
package responder

import "finsage/internal/domain"

// Descriptor is the immutable allowance configuration of one responder
// variant: which tools it may invoke, where it may hand off, and whether a
// hand-off is mandatory before its run can terminate. Built once at process
// start and shared read-only across runs.
type Descriptor struct {
	Name           string
	Tools          []string
	HandoffTargets []string
	MustHandoff    bool
}

// Allows reports whether the tool is in the responder's allowance.
func (d Descriptor) Allows(tool string) bool {
	for _, t := range d.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// MayHandoffTo reports whether target is a legal hand-off destination.
func (d Descriptor) MayHandoffTo(target string) bool {
	for _, t := range d.HandoffTargets {
		if t == target {
			return true
		}
	}
	return false
}

// Defaults returns the fixed responder set: the triage classifier, the
// three answer variants, and the critic.
func Defaults() map[string]Descriptor {
	return map[string]Descriptor{
		domain.ResponderTriage: {
			Name:  domain.ResponderTriage,
			Tools: []string{domain.ToolDocumentSearch, domain.ToolWebSearch},
		},
		domain.ResponderBasic: {
			Name:  domain.ResponderBasic,
			Tools: []string{domain.ToolDocumentSearch},
		},
		domain.ResponderAssumption: {
			Name:           domain.ResponderAssumption,
			Tools:          []string{domain.ToolDocumentSearch, domain.ToolWebSearch},
			HandoffTargets: []string{domain.ResponderCritic},
			MustHandoff:    true,
		},
		domain.ResponderConceptual: {
			Name: domain.ResponderConceptual,
		},
		domain.ResponderCritic: {
			Name:  domain.ResponderCritic,
			Tools: []string{domain.ToolDocumentSearch, domain.ToolWebSearch},
		},
	}
}

// ForCategory maps a classification category to the responder that answers it.
func ForCategory(c domain.Category) string {
	switch c {
	case domain.CategoryBasic:
		return domain.ResponderBasic
	case domain.CategoryAssumption:
		return domain.ResponderAssumption
	case domain.CategoryConceptual:
		return domain.ResponderConceptual
	}
	return ""
}
