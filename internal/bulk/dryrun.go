package bulk

import (
	"context"
	"time"

	"bulkbot/internal/rotation"
	"bulkbot/pkg/logx"
)

// simulatedCallLatency stands in for one platform round trip.
const simulatedCallLatency = 500 * time.Millisecond

// NewDryRunExecutor returns an ActionExecutor that performs no platform
// calls: it logs the action and sleeps a simulated latency. It is the
// default wiring until a real client is injected, and keeps the whole
// pipeline exercisable end to end.
func NewDryRunExecutor(clock Clock, log logx.Logger) ActionExecutor {
	if clock == nil {
		clock = NewClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &dryRunExecutor{clock: clock, log: log.With(logx.String("comp", "dryrun"))}
}

type dryRunExecutor struct {
	clock Clock
	log   logx.Logger
}

func (d *dryRunExecutor) Perform(ctx context.Context, account rotation.Account, act Action) error {
	d.log.Debug("dry-run action",
		logx.String("kind", string(act.Kind)),
		logx.String("target", act.Target),
		logx.String("item", act.Item),
		logx.String("phone", account.Phone),
	)
	return d.clock.Sleep(ctx, simulatedCallLatency)
}
