package pipeline

import (
	"fmt"
	"regexp"

	"github.com/roach88/pagebuild/internal/ir"
)

// Category pairs a path predicate with an ordered stage chain.
type Category struct {
	// Pattern is the source text of the test expression.
	Pattern string

	test    *regexp.Regexp
	exclude *regexp.Regexp
	chain   []Stage
}

// NewCategory compiles a category. exclude may be empty.
func NewCategory(test, exclude string, chain ...Stage) (*Category, error) {
	re, err := regexp.Compile(test)
	if err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", test, err)
	}
	c := &Category{Pattern: test, test: re}
	if exclude != "" {
		c.exclude, err = regexp.Compile(exclude)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", exclude, err)
		}
	}
	c.chain = append([]Stage(nil), chain...)
	return c, nil
}

// Matches reports whether the slash-separated path belongs to the category.
func (c *Category) Matches(path string) bool {
	if !c.test.MatchString(path) {
		return false
	}
	return c.exclude == nil || !c.exclude.MatchString(path)
}

// Chain returns a copy of the stage chain.
func (c *Category) Chain() []Stage {
	return append([]Stage(nil), c.chain...)
}

// Source is the kind an asset takes on entering the chain. A zero-stage
// chain is a pass-through of raw bytes.
func (c *Category) Source() Kind {
	if len(c.chain) == 0 {
		return KindRaw
	}
	return c.chain[0].Input()
}

// Result is the kind the chain produces.
func (c *Category) Result() Kind {
	if len(c.chain) == 0 {
		return KindRaw
	}
	return c.chain[len(c.chain)-1].Output()
}

// StageNames lists the chain's stage names in order.
func (c *Category) StageNames() []string {
	names := make([]string, len(c.chain))
	for i, s := range c.chain {
		names[i] = s.Name()
	}
	return names
}

// RuleTable is an ordered list of categories.
//
// INVARIANT: categories slice order NEVER changes after construction.
type RuleTable struct {
	categories []*Category
}

// NewRuleTable validates every chain's kind contract and builds the table.
// The categories slice is copied so callers cannot reorder it afterwards.
func NewRuleTable(categories ...*Category) (*RuleTable, error) {
	for _, c := range categories {
		if err := checkChain(c); err != nil {
			return nil, err
		}
	}
	return &RuleTable{categories: append([]*Category(nil), categories...)}, nil
}

// CompileRules builds a rule table from definition rules, instantiating
// stages from the registry.
func CompileRules(rules []ir.RuleSpec, reg *Registry) (*RuleTable, error) {
	categories := make([]*Category, 0, len(rules))
	for i, r := range rules {
		chain := make([]Stage, 0, len(r.Stages))
		for _, spec := range r.Stages {
			stage, err := reg.Build(spec)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			chain = append(chain, stage)
		}
		c, err := NewCategory(r.Test, r.Exclude, chain...)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		categories = append(categories, c)
	}
	return NewRuleTable(categories...)
}

func checkChain(c *Category) error {
	for i := 1; i < len(c.chain); i++ {
		prev, next := c.chain[i-1], c.chain[i]
		if prev.Output() != next.Input() {
			return &ChainContractError{
				Rule:  c.Pattern,
				Index: i,
				Prev:  prev.Name(),
				Next:  next.Name(),
				Want:  next.Input(),
				Got:   prev.Output(),
			}
		}
	}
	return nil
}

// Resolve returns the first category matching path, in table order.
func (t *RuleTable) Resolve(path string) (*Category, bool) {
	for _, c := range t.categories {
		if c.Matches(path) {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of categories.
func (t *RuleTable) Len() int {
	return len(t.categories)
}
