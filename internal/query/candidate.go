// Package query executes template and validated dynamic SQL under a resource policy
package query

import (
	"fmt"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/safety"
)

// Provenance tags where a candidate's SQL text came from
type Provenance string

const (
	ProvenanceTemplate Provenance = "template"
	ProvenanceDynamic  Provenance = "dynamic"
)

// CandidateQuery is the only thing the executor runs. Fields are unexported
// so a candidate can only be built through FromTemplate or Dynamic.
type CandidateQuery struct {
	provenance Provenance
	sql        string
	args       []any
	templateID string
	bounded    bool
	verdict    *safety.Verdict
}

// FromTemplate builds a candidate from a bound template
func FromTemplate(t *catalog.Template, b *catalog.Binding) *CandidateQuery {
	args := make([]any, len(b.Args))
	copy(args, b.Args)
	return &CandidateQuery{
		provenance: ProvenanceTemplate,
		sql:        b.SQL,
		args:       args,
		templateID: t.ID,
		bounded:    t.Bounded,
	}
}

// Dynamic builds a candidate from generated SQL and the verdict it received.
// A rejecting verdict yields an error and no candidate.
func Dynamic(sql string, verdict safety.Verdict) (*CandidateQuery, error) {
	if !verdict.Accept {
		return nil, fmt.Errorf("dynamic query was not accepted by the validator: %v", verdict.Messages())
	}
	v := verdict
	return &CandidateQuery{
		provenance: ProvenanceDynamic,
		sql:        sql,
		verdict:    &v,
	}, nil
}

func (c *CandidateQuery) Provenance() Provenance { return c.provenance }
func (c *CandidateQuery) SQL() string            { return c.sql }
func (c *CandidateQuery) TemplateID() string     { return c.templateID }

// Args returns a copy of the driver arguments
func (c *CandidateQuery) Args() []any {
	out := make([]any, len(c.args))
	copy(out, c.args)
	return out
}

// Verdict returns the validator verdict attached to a dynamic candidate
func (c *CandidateQuery) Verdict() *safety.Verdict {
	return c.verdict
}
