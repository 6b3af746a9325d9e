package domain

import "testing"

func reqs(names ...string) []Requirement {
	out := make([]Requirement, len(names))
	for i, n := range names {
		out[i] = Requirement{ID: int64(i + 1), Name: n, Type: RequirementDocument, IsMandatory: true}
	}
	return out
}

func ids(rs []Requirement) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestMatchRequirementsPrefersExact(t *testing.T) {
	candidates := reqs("Building Plans", "Building Standards Compliance", "Compliance")

	got := MatchRequirements(candidates, "compliance")
	if got.Kind != ExactMatch {
		t.Fatalf("expected exact match, got %s", got.Kind)
	}
	if len(got.Requirements) != 1 || got.Requirements[0].ID != 3 {
		t.Fatalf("expected only requirement 3, got %v", ids(got.Requirements))
	}
}

func TestMatchRequirementsFuzzyReturnsAll(t *testing.T) {
	candidates := reqs("Zoning Compliance", "Fire Safety Compliance", "Site Plan")

	got := MatchRequirements(candidates, "COMPLIANCE")
	if got.Kind != FuzzyMatch {
		t.Fatalf("expected fuzzy match, got %s", got.Kind)
	}
	if len(got.Requirements) != 2 {
		t.Fatalf("expected both compliance requirements, got %v", ids(got.Requirements))
	}
}

func TestMatchRequirementsExactOnLaterTerm(t *testing.T) {
	candidates := reqs("Site Plan Document")

	got := MatchRequirements(candidates, "plan", "site plan document")
	if got.Kind != ExactMatch {
		t.Fatalf("expected exact match on second term, got %s", got.Kind)
	}
}

func TestMatchRequirementsNoMatch(t *testing.T) {
	cases := []struct {
		name  string
		terms []string
	}{
		{"unrelated term", []string{"invoice"}},
		{"blank terms", []string{"  ", ""}},
		{"no terms", nil},
	}
	for _, tc := range cases {
		got := MatchRequirements(reqs("Property Deed"), tc.terms...)
		if got.Kind != NoMatch || len(got.Requirements) != 0 {
			t.Fatalf("%s: expected no match, got %s %v", tc.name, got.Kind, ids(got.Requirements))
		}
	}
}

func TestMatchRequirementsNormalizesWhitespace(t *testing.T) {
	got := MatchRequirements(reqs("Structural  Calculations"), " structural calculations ")
	if got.Kind != ExactMatch {
		t.Fatalf("expected exact match after whitespace normalization, got %s", got.Kind)
	}
}

func TestMatchStage(t *testing.T) {
	stages := []Stage{
		{ID: 3, Name: "Footing Inspection"},
		{ID: 4, Name: "Framing"},
		{ID: 5, Name: "Framing Inspection"},
	}
	cases := []struct {
		description string
		wantID      int64
		wantKind    MatchKind
	}{
		{"framing inspection", 5, ExactMatch},
		{"Footing", 3, FuzzyMatch},
		{"Framing", 4, ExactMatch},
		{"Stage payment for Footing Inspection works", 3, FuzzyMatch},
		{"Plumbing", 0, NoMatch},
		{"  ", 0, NoMatch},
	}
	for _, tc := range cases {
		got, kind := MatchStage(stages, tc.description)
		if kind != tc.wantKind || got.ID != tc.wantID {
			t.Fatalf("%q: expected stage %d (%s), got %d (%s)", tc.description, tc.wantID, tc.wantKind, got.ID, kind)
		}
	}
}
