package usecase

import (
	"context"
	"time"

	"ResearchPipeline/internal/ports"
)

// Janitor wires the periodic driver with registry eviction.
type Janitor struct {
	driver  ports.Scheduler
	service *ResearchService
}

// NewJanitor returns a helper to start/stop recurring eviction.
func NewJanitor(driver ports.Scheduler, service *ResearchService) *Janitor {
	return &Janitor{driver: driver, service: service}
}

// Start registers eviction with the provided scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	if j.driver == nil || j.service == nil {
		return nil
	}

	job := func(trigger time.Time) {
		j.service.Evict(trigger)
	}

	return j.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.driver == nil {
		return nil
	}

	return j.driver.Stop(ctx)
}
