// Package filter decides which build events warrant analysis. A rule is a
// small tagged expression tree combined by logical AND; it is built once
// from configuration instead of assembling a filter string, so job names
// never get interpolated into an expression.
package filter

import (
	"strings"

	"buildwatch/internal/domain"
)

// Scope selects which result statuses count as failure-class.
type Scope string

const (
	// ScopeFailures matches FAILURE only.
	ScopeFailures Scope = "failures"
	// ScopeNonSuccess matches everything that is not SUCCESS.
	ScopeNonSuccess Scope = "non_success"
	// ScopeAll matches every known result.
	ScopeAll Scope = "all"
)

type node interface {
	eval(ev domain.BuildEvent) bool
}

// Rule is a compiled filter. The zero value matches every event.
type Rule struct {
	clauses []node
}

// Evaluate is pure and total: every event yields exactly true or false.
// Clauses are checked left to right with short circuit on the first false.
func Evaluate(r Rule, ev domain.BuildEvent) bool {
	for _, c := range r.clauses {
		if !c.eval(ev) {
			return false
		}
	}
	return true
}

type resultNotNull struct{}

func (resultNotNull) eval(ev domain.BuildEvent) bool {
	return ev.Result != domain.ResultUnknown
}

type resultClass struct {
	scope Scope
}

func (c resultClass) eval(ev domain.BuildEvent) bool {
	switch c.scope {
	case ScopeFailures:
		return ev.Result == domain.ResultFailure
	case ScopeNonSuccess:
		return ev.Result != domain.ResultSuccess
	default:
		return true
	}
}

type jobInSet struct {
	jobs map[string]struct{}
}

func (c jobInSet) eval(ev domain.BuildEvent) bool {
	_, ok := c.jobs[ev.Job]
	return ok
}

type branchEquals struct {
	branch string
}

func (c branchEquals) eval(ev domain.BuildEvent) bool {
	return ev.Branch == c.branch
}

// Params describes the four optional sub-conditions. An absent condition
// means "always true" for that clause: an empty job list monitors
// everything, and a branch filter only applies when explicitly enabled.
type Params struct {
	Scope              Scope
	Jobs               []string
	Branch             string
	BranchFilterActive bool
	RequireResult      bool
}

// New compiles a rule from configuration. Clause order matches evaluation
// order: result-not-null, result class, job set, branch.
func New(p Params) Rule {
	var clauses []node
	if p.RequireResult {
		clauses = append(clauses, resultNotNull{})
	}
	if p.Scope == ScopeFailures || p.Scope == ScopeNonSuccess {
		clauses = append(clauses, resultClass{scope: p.Scope})
	}
	if len(p.Jobs) > 0 {
		set := make(map[string]struct{}, len(p.Jobs))
		for _, j := range p.Jobs {
			j = strings.TrimSpace(j)
			if j != "" {
				set[j] = struct{}{}
			}
		}
		if len(set) > 0 {
			clauses = append(clauses, jobInSet{jobs: set})
		}
	}
	if p.BranchFilterActive && p.Branch != "" {
		clauses = append(clauses, branchEquals{branch: p.Branch})
	}
	return Rule{clauses: clauses}
}

// ParseScope maps the failure_scope config value onto a Scope. Unknown
// values fall back to ScopeFailures; config validation rejects them first.
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeFailures, ScopeNonSuccess, ScopeAll:
		return Scope(s)
	default:
		return ScopeFailures
	}
}
