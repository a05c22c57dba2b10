package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talep/internal/config"
	"talep/internal/domain"
	"talep/internal/events"
	"talep/internal/metrics"
	"talep/internal/models"
	"talep/internal/timezone"

	"github.com/rs/zerolog"
)

type userLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type job struct {
	kind    MessageKind
	payload *events.ReservationEventPayload
}

// Dispatcher turns committed lifecycle events into text messages. Events are
// queued without blocking the publisher and each recipient gets exactly one
// send attempt. Failures are logged and never reach the lifecycle.
type Dispatcher struct {
	notifier    domain.Notifier
	users       userLookup
	tz          *timezone.Normalizer
	adminPhones []string
	workers     int
	sendTimeout time.Duration
	queue       chan job
	logger      *zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(notifier domain.Notifier, users userLookup, tz *timezone.Normalizer, cfg config.NotificationConfig, logger *zerolog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = models.NotificationWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = models.NotificationQueueSize
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = models.NotificationSendTimeout * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	phones := make([]string, 0, len(cfg.AdminPhones))
	for _, p := range cfg.AdminPhones {
		if n := models.NormalizePhone(p); n != "" {
			phones = append(phones, n)
		}
	}

	return &Dispatcher{
		notifier:    notifier,
		users:       users,
		tz:          tz,
		adminPhones: phones,
		workers:     workers,
		sendTimeout: timeout,
		queue:       make(chan job, size),
		logger:      logger,
	}
}

// Subscribe hooks the dispatcher to the events that notify someone.
func (d *Dispatcher) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll([]string{
		events.EventReservationCreated,
		events.EventReservationApproved,
		events.EventReservationRejected,
		events.EventReservationCancelled,
	}, d.HandleEvent)
}

// HandleEvent queues the notification for event. It never blocks; when the
// queue is full the message is dropped with a warning.
func (d *Dispatcher) HandleEvent(event *events.Event) error {
	kind, ok := KindForEvent(event.Type)
	if !ok {
		return nil
	}
	payload, err := events.DecodeReservationPayload(event)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}

	select {
	case d.queue <- job{kind: kind, payload: payload}:
	default:
		metrics.IncNotification("queue", "dropped")
		d.logger.Warn().
			Str("kind", string(kind)).
			Int64("reservation_id", payload.ReservationID).
			Msg("notification queue full, message dropped")
	}
	return nil
}

// Start runs the workers until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-d.queue:
					if !ok {
						return
					}
					d.process(ctx, j)
				}
			}
		}()
	}
	d.logger.Info().Int("workers", d.workers).Msg("notification dispatcher started")
}

// Stop stops accepting events, lets the workers drain the queue and waits.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	r := j.payload.Reservation
	data := MessageData{
		ResourceName: resourceLabel(j.payload),
		Range:        d.tz.FormatRange(r.Start, r.End),
		ActorName:    j.payload.ActorName,
		Purpose:      r.Purpose,
		Reason:       j.payload.Reason,
		Participants: r.Participants(),
	}

	requester, err := d.users.GetUserByID(ctx, r.RequesterID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("failed to load requester for notification")
	}

	sent := make(map[string]bool)
	if requester != nil {
		data.RequesterName = requester.Name
		if phone := models.NormalizePhone(requester.Phone); phone != "" {
			sent[phone] = true
			d.deliver(ctx, j.kind, r.ID, phone, RequesterMessage(j.kind, data))
		}
	}
	if data.RequesterName == "" {
		data.RequesterName = fmt.Sprintf("#%d", r.RequesterID)
	}

	body := AdminMessage(j.kind, data)
	if body == "" {
		return
	}
	for _, phone := range d.adminPhones {
		if sent[phone] {
			continue
		}
		sent[phone] = true
		d.deliver(ctx, j.kind, r.ID, phone, body)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, kind MessageKind, reservationID int64, phone, body string) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := d.notifier.Send(ctx, phone, body); err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrNotification, err)
		d.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Int64("reservation_id", reservationID).
			Str("phone", maskPhone(phone)).
			Msg("notification failed")
		return
	}
	d.logger.Debug().
		Str("kind", string(kind)).
		Int64("reservation_id", reservationID).
		Str("phone", maskPhone(phone)).
		Msg("notification sent")
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return fmt.Sprintf("***%s", phone[len(phone)-4:])
}
