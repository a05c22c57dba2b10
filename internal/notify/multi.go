package notify

import (
	"context"
	"errors"
	"fmt"

	"talep/internal/domain"
	"talep/internal/metrics"
)

// Channel is a named notifier, used for metrics labels.
type Channel struct {
	Name     string
	Notifier domain.Notifier
}

// Multi sends through every channel and joins the failures.
type Multi struct {
	channels []Channel
}

func NewMulti(channels ...Channel) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) Send(ctx context.Context, phone, body string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notifier.Send(ctx, phone, body); err != nil {
			metrics.IncNotification(ch.Name, "failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		metrics.IncNotification(ch.Name, "sent")
	}
	return errors.Join(errs...)
}
