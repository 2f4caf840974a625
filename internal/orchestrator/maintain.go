package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maintain runs the maintenance phases for one finished turn. Phases run
// in order under the scope lock; a failing phase is logged and the rest
// still run. The joined phase errors are returned for the worker pool.
func (o *Orchestrator) maintain(ctx context.Context, scope, userMsg, assistantMsg string) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.maintain")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope))

	unlock := o.locks.lock(scope)
	defer unlock()

	var errs []error
	run := func(phase Phase, fn func(context.Context) error) {
		start := time.Now()
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", phase, err))
			return
		}
		if err := fn(ctx); err != nil {
			o.logger.Error("maintenance phase failed",
				zap.String("scope", scope),
				zap.String("operation", string(phase)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", phase, err))
			return
		}
		o.logger.Debug("maintenance phase finished",
			zap.String("scope", scope),
			zap.String("operation", string(phase)),
			zap.Duration("duration", time.Since(start)))
	}

	var facts []string
	run(PhaseExtract, func(ctx context.Context) error {
		var err error
		facts, err = o.deps.Extractor.Extract(ctx, userMsg, assistantMsg)
		return err
	})
	run(PhaseConsolidate, func(ctx context.Context) error {
		if len(facts) == 0 {
			return nil
		}
		plan := o.deps.Consolidator.Consolidate(ctx, facts, scope)
		created := o.deps.Consolidator.Apply(ctx, scope, plan)
		o.logger.Info("memory consolidated",
			zap.String("scope", scope),
			zap.Int("facts", len(facts)),
			zap.Int("created", len(created)),
			zap.Int("deleted", len(plan.ToDelete)),
			zap.Bool("fallback", plan.Fallback))
		return nil
	})
	run(PhaseSummarize, func(ctx context.Context) error {
		due, err := o.summaryDue(scope)
		if err != nil || !due {
			return err
		}
		_, err = o.deps.Summarizer.Roll(ctx, scope)
		return err
	})
	run(PhaseEvict, func(ctx context.Context) error {
		evicted, err := o.deps.Evictor.Evict(ctx, scope)
		if len(evicted) > 0 {
			o.logger.Info("records evicted", zap.String("scope", scope), zap.Int("count", len(evicted)))
		}
		return err
	})
	if o.deps.Snapshot != nil {
		run(PhaseSnapshot, func(ctx context.Context) error {
			_, err := o.deps.Snapshot.Commit(ctx, "maintain "+scope)
			return err
		})
	}

	return errors.Join(errs...)
}

// summaryDue reports whether at least SummaryEveryTurns user turns were
// written since the newest summary of scope.
func (o *Orchestrator) summaryDue(scope string) (bool, error) {
	sums, err := o.deps.Store.List(scope, record.KindSummary)
	if err != nil {
		return false, err
	}
	turns, err := o.deps.Store.List(scope, record.KindUserTurn)
	if err != nil {
		return false, err
	}
	if len(sums) == 0 {
		return len(turns) >= o.cfg.SummaryEveryTurns, nil
	}
	last := sums[len(sums)-1].CreatedAt
	n := 0
	for _, t := range turns {
		if t.CreatedAt.After(last) {
			n++
		}
	}
	return n >= o.cfg.SummaryEveryTurns, nil
}
