package scheduler

import (
	"context"
	"time"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/clock"
)

// DeferredExecutionsJob runs pending executions whose scheduled_at has passed.
func DeferredExecutionsJob(spec string, runner *automation.Runner, clk clock.Clock, batch int, log logger.Logger) Job {
	return Job{
		Name:    constants.LockNameDeferredSweep,
		Spec:    spec,
		Timeout: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			stats, err := runner.RunDue(ctx, clk.Now(), batch)
			if stats.Processed+stats.Conflicts+stats.Errors+stats.Abandoned > 0 {
				log.InfowCtx(ctx, "Deferred executions swept",
					"processed", stats.Processed,
					"conflicts", stats.Conflicts,
					"errors", stats.Errors,
					"abandoned", stats.Abandoned,
				)
			}
			return err
		},
	}
}

// CadenceJob advances due cadence enrollments.
func CadenceJob(spec string, engine *cadence.Engine, clk clock.Clock, log logger.Logger) Job {
	return Job{
		Name:    constants.LockNameCadenceSweep,
		Spec:    spec,
		Timeout: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			res, err := engine.ProcessDue(ctx, clk.Now())
			if res.Processed+res.Conflicts+res.Errors > 0 {
				log.InfowCtx(ctx, "Cadence enrollments processed",
					"processed", res.Processed,
					"conflicts", res.Conflicts,
					"errors", res.Errors,
				)
			}
			return err
		},
	}
}
