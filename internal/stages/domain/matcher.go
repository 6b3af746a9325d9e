package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// MatchKind tags how a requirement name matched a search term.
type MatchKind int

const (
	NoMatch MatchKind = iota
	ExactMatch
	FuzzyMatch
)

func (k MatchKind) String() string {
	switch k {
	case ExactMatch:
		return "exact"
	case FuzzyMatch:
		return "fuzzy"
	default:
		return "none"
	}
}

// MatchResult is the outcome of matching requirement names against terms.
// When several requirements match at the same strength all of them are returned.
type MatchResult struct {
	Kind         MatchKind
	Requirements []Requirement
}

// MatchRequirements matches candidates by name against terms.
// Case-folded equality with any term wins over substring containment.
func MatchRequirements(candidates []Requirement, terms ...string) MatchResult {
	folder := cases.Fold()
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := normalizeName(folder, term); t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return MatchResult{Kind: NoMatch}
	}

	var exact, fuzzy []Requirement
	for _, req := range candidates {
		switch matchName(normalizeName(folder, req.Name), normalized) {
		case ExactMatch:
			exact = append(exact, req)
		case FuzzyMatch:
			fuzzy = append(fuzzy, req)
		}
	}

	switch {
	case len(exact) > 0:
		return MatchResult{Kind: ExactMatch, Requirements: exact}
	case len(fuzzy) > 0:
		return MatchResult{Kind: FuzzyMatch, Requirements: fuzzy}
	default:
		return MatchResult{Kind: NoMatch}
	}
}

func matchName(name string, terms []string) MatchKind {
	best := NoMatch
	for _, term := range terms {
		if name == term {
			return ExactMatch
		}
		if strings.Contains(name, term) {
			best = FuzzyMatch
		}
	}
	return best
}

func normalizeName(folder cases.Caser, s string) string {
	return strings.Join(strings.Fields(folder.String(s)), " ")
}

// MatchStage picks the stage a description names. Case-folded equality
// wins; otherwise the first stage whose name contains the description or
// is contained in it.
func MatchStage(candidates []Stage, description string) (Stage, MatchKind) {
	folder := cases.Fold()
	term := normalizeName(folder, description)
	if term == "" {
		return Stage{}, NoMatch
	}
	for _, st := range candidates {
		if normalizeName(folder, st.Name) == term {
			return st, ExactMatch
		}
	}
	for _, st := range candidates {
		name := normalizeName(folder, st.Name)
		if name != "" && (strings.Contains(name, term) || strings.Contains(term, name)) {
			return st, FuzzyMatch
		}
	}
	return Stage{}, NoMatch
}
