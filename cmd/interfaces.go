package cmd

import (
	"context"
	"time"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/publisher"
)

// Publisher is what watch needs from the publisher fan-out.
type Publisher interface {
	PublishReading(ctx context.Context, d publisher.Device, r model.Reading) error
	PublishSync(ctx context.Context, d publisher.Device, result model.SyncResult, at time.Time) error
}
