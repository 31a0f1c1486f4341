// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"time"

	"github.com/mdouchement/logger"
	"github.com/robfig/cron/v3"

	"github.com/dmytros/cursorbot/internal/store"
)

// A Controller is an Inversion Of Control pattern used to init the
// scheduler package.
type Controller struct {
	Logger        logger.Logger
	Store         *store.Store
	Specification string
	Retention     time.Duration
}

// Start launches the scheduler asynchronously. Cloud agents expire
// server-side, so user bindings older than the retention window are
// cleared to avoid follow-ups that can only fail.
func Start(c Controller) {
	cron := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	log := c.Logger.WithPrefix("[scheduler]")

	_, err := cron.AddFunc(c.Specification, func() {
		n, err := c.Store.PruneAgentBindings(c.Retention)
		if err != nil {
			log.Error(err)
			return
		}
		if n > 0 {
			log.Infof("Cleared %d stale agent bindings", n)
		}
	})
	if err != nil {
		panic(err)
	}
	log.Info("Agent binding cleanup task registered")

	cron.Start()
	log.Info("Scheduler is running")
}
