package app

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/bus"
	"github.com/marcwadey/granary/internal/common"
	"github.com/marcwadey/granary/internal/pipeline"
)

// Maintenance runs periodic housekeeping: badger value-log GC and
// dead-letter retention sweeps.
type Maintenance struct {
	cron        *cron.Cron
	bus         *bus.Bus
	deadLetters *pipeline.DeadLetterStore
	retention   string
	logger      arbor.ILogger
}

// NewMaintenance creates the scheduler and registers the sweep job.
func NewMaintenance(cfg common.MaintenanceConfig, b *bus.Bus, deadLetters *pipeline.DeadLetterStore, logger arbor.ILogger) (*Maintenance, error) {
	m := &Maintenance{
		cron:        cron.New(),
		bus:         b,
		deadLetters: deadLetters,
		retention:   cfg.DeadLetterRetention,
		logger:      logger,
	}

	if _, err := m.cron.AddFunc(cfg.Schedule, m.sweep); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// Start begins the schedule.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info().Msg("Maintenance scheduler started")
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// sweep runs one maintenance pass.
func (m *Maintenance) sweep() {
	if err := m.bus.RunGC(); err != nil {
		m.logger.Warn().Err(err).Msg("Value log GC failed")
	}

	retention := common.Duration(m.retention, 0)
	if retention <= 0 {
		return
	}
	purged, err := m.deadLetters.PurgeOlderThan(retention)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Dead-letter purge failed")
		return
	}
	if purged > 0 {
		m.logger.Info().
			Int("purged", purged).
			Msg("Purged expired dead-letter records")
	}
}
