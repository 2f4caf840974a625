package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Remembered reports what Remember changed.
type Remembered struct {
	Scope    string
	Created  []*record.Record
	Deleted  []string
	Fallback bool
}

// Remember consolidates facts supplied directly by a client, bypassing the
// chat path. It runs under the same scope lock as background maintenance.
func (o *Orchestrator) Remember(ctx context.Context, scope string, facts []string) (*Remembered, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Remember")
	defer span.End()

	scope, _, err := o.resolve(scope, 0)
	if err != nil {
		return nil, err
	}
	clean := make([]string, 0, len(facts))
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			clean = append(clean, o.scrub(ctx, f))
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: no facts", ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("scope", scope), attribute.Int("facts", len(clean)))

	unlock := o.locks.lock(scope)
	defer unlock()

	plan := o.deps.Consolidator.Consolidate(ctx, clean, scope)
	created := o.deps.Consolidator.Apply(ctx, scope, plan)
	o.logger.Info("memory consolidated",
		zap.String("scope", scope),
		zap.String("operation", "remember"),
		zap.Int("facts", len(clean)),
		zap.Int("created", len(created)),
		zap.Int("deleted", len(plan.ToDelete)),
		zap.Bool("fallback", plan.Fallback))
	return &Remembered{Scope: scope, Created: created, Deleted: plan.ToDelete, Fallback: plan.Fallback}, nil
}
