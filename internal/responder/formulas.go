package responder

import (
	"regexp"
	"strings"
)

// Formula describes a financial metric: the phrases that identify it in a
// question and the variables that must be explicitly present in the context
// before the metric can be answered without assumptions.
type Formula struct {
	Metric string
	Match  []string
	Vars   []string
}

// The conservative triage reading applies: if any variable in the
// derivation is not explicitly in the context, the question is
// assumption-based even when the headline figure itself is printed.
var formulas = []Formula{
	{
		Metric: "market debt to equity",
		Match:  []string{"market debt to equity", "debt to equity"},
		Vars:   []string{"total debt", "shares outstanding", "market share price"},
	},
	{
		Metric: "adjusted ebitda",
		Match:  []string{"adjusted ebitda"},
		Vars:   []string{"operating income", "depreciation and amortization", "one-time expenses"},
	},
	{
		Metric: "ev/sales",
		Match:  []string{"ev/sales", "ev to sales", "enterprise value"},
		Vars:   []string{"net sales", "market capitalization", "total debt", "cash and cash equivalents"},
	},
	{
		Metric: "inventory turnover",
		Match:  []string{"inventory turnover"},
		Vars:   []string{"cost of goods sold", "inventory"},
	},
	{
		Metric: "earnings per share",
		Match:  []string{"earnings per share", "eps"},
		Vars:   []string{"net income", "shares outstanding"},
	},
	{
		Metric: "operating cash tax rate",
		Match:  []string{"cash tax rate", "operating tax"},
		Vars:   []string{"income taxes paid", "operating income"},
	},
	{
		Metric: "gross profit",
		Match:  []string{"gross profit"},
		Vars:   []string{"gross profit"},
	},
}

// LookupFormula returns the first formula whose match phrases appear in the
// question, or nil if none do.
func LookupFormula(text string) *Formula {
	t := strings.ToLower(text)
	for i := range formulas {
		for _, phrase := range formulas[i].Match {
			if strings.Contains(t, phrase) {
				return &formulas[i]
			}
		}
	}
	return nil
}

var genericMetricWords = []string{
	"ratio", "margin", "turnover", "ebitda", "revenue", "net income",
	"cash flow", "tax rate", "market cap", "gross profit", "eps",
}

// Tactical reports whether the question mentions a quantifiable metric.
// Tactical questions oblige the classifier to corroborate variable
// presence with at least one document search.
func Tactical(text string) bool {
	if LookupFormula(text) != nil {
		return true
	}
	t := strings.ToLower(text)
	for _, w := range genericMetricWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

var definitionalPattern = regexp.MustCompile(`(?i)\b(what does|meaning of|definition|define|explain)\b`)

// Definitional reports whether the question asks only for the meaning of a
// term, with no request for a figure.
func Definitional(text string) bool {
	return definitionalPattern.MatchString(text)
}

var hypotheticalEntity = regexp.MustCompile(`\bCompany [A-Z]\b`)

// financeWords are capitalized mid-sentence tokens that are metric
// vocabulary, not company names.
var financeWords = map[string]bool{
	"gross": true, "profit": true, "inventory": true, "turnover": true,
	"ebitda": true, "adjusted": true, "market": true, "debt": true,
	"equity": true, "ratio": true, "ev": true, "sales": true, "eps": true,
	"irr": true, "npv": true, "cash": true, "operating": true, "tax": true,
	"rate": true, "revenue": true, "income": true, "net": true,
	"shares": true, "outstanding": true, "price": true, "enterprise": true,
	"value": true, "capital": true, "lease": true, "liability": true,
	"margin": true, "rsus": true, "psus": true, "determine": true,
	"calculate": true, "company": true, "note": true, "balance": true,
	"sheet": true, "statement": true, "fiscal": true, "q1": true,
	"q2": true, "q3": true, "q4": true, "fy": true,
}

var monthWords = map[string]bool{
	"january": true, "february": true, "march": true, "april": true,
	"may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
}

// ConcernsEntity reports whether the question is about the entity the
// context corpus describes. A question naming a hypothetical company or a
// different proper name is not, and classifies conceptual regardless of
// other signals.
func ConcernsEntity(text, entity string) bool {
	if hypotheticalEntity.MatchString(text) {
		return false
	}

	entityTokens := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(entity)) {
		entityTokens[strings.Trim(tok, ".,")] = true
	}
	if entity != "" {
		t := strings.ToLower(text)
		for tok := range entityTokens {
			if strings.Contains(t, tok) {
				return true
			}
		}
	}

	// No explicit entity mention: about the corpus entity unless some other
	// proper name appears mid-sentence.
	words := strings.Fields(text)
	for i, w := range words {
		if i == 0 {
			continue
		}
		trimmed := strings.Trim(w, ".,:;?!()'\"")
		if trimmed == "" {
			continue
		}
		first := rune(trimmed[0])
		if first < 'A' || first > 'Z' {
			continue
		}
		lower := strings.ToLower(trimmed)
		if financeWords[lower] || monthWords[lower] || entityTokens[lower] {
			continue
		}
		return false
	}
	return true
}
