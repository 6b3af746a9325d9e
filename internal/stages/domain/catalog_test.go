package domain

import (
	"strings"
	"testing"
)

func TestDefaultCatalogDefinition(t *testing.T) {
	def, err := DefaultCatalogDefinition()
	if err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	if len(def.Stages) != 12 {
		t.Fatalf("expected 12 stages, got %d", len(def.Stages))
	}
	if def.Stages[0].Kind != StageGeneral {
		t.Fatalf("expected omitted kind to default to general, got %q", def.Stages[0].Kind)
	}

	var inspections int
	for _, s := range def.Stages {
		if s.Kind == StageInspection {
			inspections++
		}
		if s.Name == "Document Verification" {
			for _, r := range s.Requirements {
				if r.Name == "Environmental Impact Assessment" && r.IsMandatory() {
					t.Fatalf("expected environmental assessment to be optional")
				}
			}
		}
	}
	if inspections != 5 {
		t.Fatalf("expected 5 inspection stages, got %d", inspections)
	}
}

func TestParseCatalogDefinitionRejectsGaps(t *testing.T) {
	raw := `
stages:
  - {name: One, order: 1}
  - {name: Three, order: 3}
`
	_, err := ParseCatalogDefinition([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), "expected 2") {
		t.Fatalf("expected contiguity error, got %v", err)
	}
}

func TestParseCatalogDefinitionRejectsUnknownType(t *testing.T) {
	raw := `
stages:
  - name: One
    order: 1
    requirements:
      - {type: signature, name: Wet Signature}
`
	if _, err := ParseCatalogDefinition([]byte(raw)); err == nil {
		t.Fatalf("expected invalid requirement type to be rejected")
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	stages := []Stage{
		{ID: 10, Name: "Scheduling", OrderNumber: 2, Kind: StageInspectionScheduling},
		{ID: 5, Name: "Submission", OrderNumber: 1, Kind: StageGeneral},
		{ID: 20, Name: "Foundation", OrderNumber: 3, Kind: StageInspection},
		{ID: 30, Name: "Structural", OrderNumber: 4, Kind: StageInspection},
	}
	reqs := []Requirement{
		{ID: 1, StageID: 5, Type: RequirementForm, Name: "Form", IsMandatory: true},
		{ID: 2, StageID: 20, Type: RequirementInspection, Name: "Foundation Inspection", IsMandatory: true},
		{ID: 3, StageID: 20, Type: RequirementDocument, Name: "Foundation Report", IsMandatory: true},
	}
	c, err := NewCatalog(stages, reqs)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestCatalogOrdering(t *testing.T) {
	c := testCatalog(t)

	if c.First().ID != 5 {
		t.Fatalf("expected first stage 5, got %d", c.First().ID)
	}
	next, ok := c.Next(5)
	if !ok || next.ID != 10 {
		t.Fatalf("expected next of 5 to be 10, got %d (%v)", next.ID, ok)
	}
	if _, ok := c.Next(30); ok {
		t.Fatalf("expected no stage after the last one")
	}
	if from := c.From(20); len(from) != 2 || from[0].ID != 20 {
		t.Fatalf("unexpected From result %v", from)
	}
	if got := c.RequirementsOfType(20, RequirementInspection); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("unexpected inspection requirements %v", got)
	}
}

func TestCatalogInspectionOrder(t *testing.T) {
	c := testCatalog(t)

	order, prev, ok := c.InspectionOrder(20)
	if !ok || order != 1 || prev != nil {
		t.Fatalf("expected foundation to be inspection 1, got %d %v %v", order, prev, ok)
	}
	order, prev, ok = c.InspectionOrder(30)
	if !ok || order != 2 || prev == nil || prev.ID != 20 {
		t.Fatalf("expected structural to follow foundation, got %d %v %v", order, prev, ok)
	}
	if _, _, ok := c.InspectionOrder(10); ok {
		t.Fatalf("scheduling stage is not an inspection stage")
	}
}

func TestNewCatalogRejectsGapsAndDanglingRequirements(t *testing.T) {
	if _, err := NewCatalog([]Stage{{ID: 1, OrderNumber: 2, Kind: StageGeneral}}, nil); err == nil {
		t.Fatalf("expected order gap to be rejected")
	}
	stages := []Stage{{ID: 1, OrderNumber: 1, Kind: StageGeneral}}
	reqs := []Requirement{{ID: 1, StageID: 99, Type: RequirementForm, Name: "x"}}
	if _, err := NewCatalog(stages, reqs); err == nil {
		t.Fatalf("expected dangling requirement to be rejected")
	}
}
