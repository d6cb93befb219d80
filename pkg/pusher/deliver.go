package pusher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
)

// SendFunc dispatches a single record
type SendFunc func(ctx context.Context, rec models.EnrichedRecord) error

// DeliverEach dispatches records one at a time, pausing delay between
// messages. It returns the ids that were sent successfully and the joined
// errors of the ones that failed. Records left when ctx ends count as failed.
func DeliverEach(ctx context.Context, records []models.EnrichedRecord, delay time.Duration, send SendFunc) ([]uuid.UUID, error) {
	delivered := make([]uuid.UUID, 0, len(records))
	var errs []error

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%d records not sent: %w", len(records)-i, err))
			break
		}

		if err := send(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
		} else {
			delivered = append(delivered, rec.ID)
		}

		if delay > 0 && i < len(records)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	return delivered, errors.Join(errs...)
}
