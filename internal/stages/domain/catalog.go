package domain

import (
	"fmt"
	"slices"
	"sort"
)

// Catalog is the immutable, ordered stage list with its requirements.
// Every gating decision relies on its order numbers being contiguous from 1.
type Catalog struct {
	stages       []Stage
	index        map[int64]int
	requirements map[int64][]Requirement
	reqByID      map[int64]Requirement
}

// NewCatalog validates and indexes persisted catalog rows.
func NewCatalog(stages []Stage, requirements []Requirement) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage catalog is empty")
	}
	ordered := slices.Clone(stages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].OrderNumber < ordered[j].OrderNumber })

	c := &Catalog{
		stages:       ordered,
		index:        make(map[int64]int, len(ordered)),
		requirements: make(map[int64][]Requirement, len(ordered)),
		reqByID:      make(map[int64]Requirement, len(requirements)),
	}
	for i, s := range ordered {
		if s.OrderNumber != i+1 {
			return nil, fmt.Errorf("stage %q has order %d, expected %d", s.Name, s.OrderNumber, i+1)
		}
		if _, dup := c.index[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage id %d", s.ID)
		}
		if _, err := ParseStageKind(string(s.Kind)); err != nil {
			return nil, fmt.Errorf("stage %q: %w", s.Name, err)
		}
		c.index[s.ID] = i
	}
	for _, r := range requirements {
		if _, ok := c.index[r.StageID]; !ok {
			return nil, fmt.Errorf("requirement %q references unknown stage %d", r.Name, r.StageID)
		}
		if _, err := ParseRequirementType(string(r.Type)); err != nil {
			return nil, fmt.Errorf("requirement %q: %w", r.Name, err)
		}
		c.requirements[r.StageID] = append(c.requirements[r.StageID], r)
		c.reqByID[r.ID] = r
	}
	return c, nil
}

// Stages returns all stages in order.
func (c *Catalog) Stages() []Stage {
	return slices.Clone(c.stages)
}

// First returns the stage with order number 1.
func (c *Catalog) First() Stage {
	return c.stages[0]
}

// Stage looks up a stage by id.
func (c *Catalog) Stage(id int64) (Stage, bool) {
	i, ok := c.index[id]
	if !ok {
		return Stage{}, false
	}
	return c.stages[i], true
}

// Next returns the stage following id by order number.
func (c *Catalog) Next(id int64) (Stage, bool) {
	i, ok := c.index[id]
	if !ok || i+1 >= len(c.stages) {
		return Stage{}, false
	}
	return c.stages[i+1], true
}

// From returns the stage with the given id and every stage after it.
func (c *Catalog) From(id int64) []Stage {
	i, ok := c.index[id]
	if !ok {
		return nil
	}
	return slices.Clone(c.stages[i:])
}

// Requirements returns the requirements of a stage.
func (c *Catalog) Requirements(stageID int64) []Requirement {
	return slices.Clone(c.requirements[stageID])
}

// Requirement looks up a requirement by id.
func (c *Catalog) Requirement(id int64) (Requirement, bool) {
	r, ok := c.reqByID[id]
	return r, ok
}

// RequirementsOfType filters a stage's requirements by type.
func (c *Catalog) RequirementsOfType(stageID int64, types ...RequirementType) []Requirement {
	var out []Requirement
	for _, r := range c.requirements[stageID] {
		if slices.Contains(types, r.Type) {
			out = append(out, r)
		}
	}
	return out
}

// InspectionStages returns the inspection-kind stages in order.
func (c *Catalog) InspectionStages() []Stage {
	var out []Stage
	for _, s := range c.stages {
		if s.Kind == StageInspection {
			out = append(out, s)
		}
	}
	return out
}

// InspectionOrder returns the 1-based position of a stage within the
// inspection sub-sequence, and the inspection stage preceding it if any.
func (c *Catalog) InspectionOrder(stageID int64) (order int, previous *Stage, ok bool) {
	inspections := c.InspectionStages()
	for i, s := range inspections {
		if s.ID != stageID {
			continue
		}
		if i > 0 {
			prev := inspections[i-1]
			previous = &prev
		}
		return i + 1, previous, true
	}
	return 0, nil, false
}
