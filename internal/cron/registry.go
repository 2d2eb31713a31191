package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Job outcomes, as logged and exported on the cron metrics.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeIdle      = "idle"
	OutcomeFailed    = "failed"
)

// Outcomes lists every outcome a job run can end with.
var Outcomes = []string{OutcomeCompleted, OutcomePartial, OutcomeIdle, OutcomeFailed}

// Job is one unit of scheduled work. The returned Tally describes the ledger
// rows it touched; an error marks the whole run failed.
type Job interface {
	Name() string
	Run(ctx context.Context) (Tally, error)
}

// Tally counts the ledger rows a job run processed.
type Tally struct {
	Processed int
	Fulfilled int
	Failed    int
}

// Outcome classifies a successful run: nothing to do, every row handled, or
// some rows left for a later cycle.
func (t Tally) Outcome() string {
	switch {
	case t.Processed == 0:
		return OutcomeIdle
	case t.Failed > 0:
		return OutcomePartial
	default:
		return OutcomeCompleted
	}
}

// Registry holds jobs keyed by name, run in registration order.
type Registry struct {
	order []string
	jobs  map[string]Job
}

// NewRegistry registers jobs in order and rejects unnamed or duplicate jobs.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return errors.New("cron job is nil")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return errors.New("cron job name required")
	}
	if r.jobs == nil {
		r.jobs = map[string]Job{}
	}
	if _, dup := r.jobs[name]; dup {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.jobs[name] = job
	r.order = append(r.order, name)
	return nil
}

// Names returns job names in run order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Jobs returns the jobs in run order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}
