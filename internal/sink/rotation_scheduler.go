package sink

import (
	"context"

	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/robfig/cron/v3"
)

const midnightSpec = "0 0 * * *"

type Rotator interface {
	CheckRotation() error
}

// RotationScheduler checks rotation at local midnight so quiet days still
// get their end-of-file marker and retention pass.
type RotationScheduler struct {
	rotator Rotator
	cron    *cron.Cron
}

func NewRotationScheduler(rotator Rotator, offsetHours int) *RotationScheduler {
	c := cron.New(cron.WithLocation(fixedZone(offsetHours)))
	rs := &RotationScheduler{
		rotator: rotator,
		cron:    c,
	}

	_, err := c.AddFunc(midnightSpec, rs.checkRotationWrapper)
	if err != nil {
		logger.Errorf("failed to add cron job: %v", err)
	}

	return rs
}

func (rs *RotationScheduler) Start(ctx context.Context) error {
	if err := rs.rotator.CheckRotation(); err != nil {
		logger.Errorf("failed initial rotation check: %v", err)
	}

	rs.cron.Start()

	go func() {
		<-ctx.Done()
		rs.cron.Stop()
	}()

	return nil
}

func (rs *RotationScheduler) checkRotationWrapper() {
	if err := rs.rotator.CheckRotation(); err != nil {
		logger.Errorf("failed scheduled rotation check: %v", err)
	}
}
