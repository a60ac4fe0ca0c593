package orchestrator

import (
	"context"
	"time"

	"threatfeed/pkg/taskrunner"
)

// RunForever wraps RunCycle in a taskrunner.Runner, executing it once
// every interval until ctx is cancelled or Stop is called (§4.5's
// run_forever operation).
func (o *Orchestrator) RunForever(ctx context.Context, interval time.Duration) {
	o.runner = taskrunner.New("orchestrator_cycle", interval, func(ctx context.Context) error {
		o.RunCycle(ctx)
		return nil
	}, o.logger)
	o.runner.RunForever(ctx)
}

// Stop signals a running RunForever loop to stop after its current cycle.
func (o *Orchestrator) Stop() {
	if o.runner != nil {
		o.runner.Stop()
	}
}
