package runner

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/requester"
	"github.com/torosent/strawberry/internal/sampler"
)

// user is one simulated client. Its requests are strictly sequential.
type user struct {
	id        int
	sampler   sampler.Sampler
	requester requester.Requester
	store     dataset.Store
	wait      WaitPolicy

	onRecord     func()
	onWriteError func()
}

func (u *user) run(ctx context.Context) {
	logger := log.WithField("user", u.id)
	for {
		unit, ok := u.sampler.Next()
		if !ok {
			logger.Debug("sampler exhausted")
			return
		}

		record, err := u.requester.Issue(ctx, unit.Item)
		if err != nil || ctx.Err() != nil {
			return
		}
		u.onRecord()

		if err := u.store.Write(ctx, record); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).WithField("custom_id", record.CustomID).Error("failed to write record")
			u.onWriteError()
		}

		if unit.Last {
			continue
		}
		if err := sleep(ctx, u.wait.NextDelay()); err != nil {
			return
		}
	}
}
