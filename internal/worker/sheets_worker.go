package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talep/internal/domain"
	"talep/internal/events"
	"talep/internal/metrics"
	"talep/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert       = "upsert"
	TaskDelete       = "delete"
	TaskUpdateStatus = "update_status"
	TaskSyncRange    = "sync_range"
)

const (
	redisQueueKey = "talep:sheets:queue"
	deadLetterKey = "talep:sheets:deadletter"
	localQueueLen = 128
)

// sheetTaskPayload is persisted in SyncTask.Payload as JSON.
type sheetTaskPayload struct {
	ReservationID int64               `json:"reservation_id"`
	Reservation   *models.Reservation `json:"reservation,omitempty"`
	ResourceName  string              `json:"resource_name,omitempty"`
	Status        string              `json:"status,omitempty"`
	From          *time.Time          `json:"from,omitempty"`
	To            *time.Time          `json:"to,omitempty"`
}

// SheetsClient is the subset of the Sheets mirror the worker drives.
type SheetsClient interface {
	UpsertReservation(ctx context.Context, r *models.Reservation, resourceName string) error
	DeleteReservationRow(ctx context.Context, reservationID int64) error
	UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error
	ReplaceReservationsSheet(ctx context.Context, reservations []*models.Reservation, names map[int64]string) error
}

// Catalog resolves resource names and reads the ledger. Upserts are applied
// from the stored reservation, so a retried task never writes an older state.
type Catalog interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
}

var _ domain.SyncWorker = (*SheetsWorker)(nil)

// SheetsWorker consumes sync_queue tasks and applies them to Google Sheets.
// Tasks are persisted first, then pushed to Redis or the local queue; the
// persisted rows are polled as the fallback path.
type SheetsWorker struct {
	store        domain.SyncTaskStore
	catalog      Catalog
	sheets       SheetsClient
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	logger       *zerolog.Logger
}

// NewSheetsWorker builds a worker. redisClient and logger may be nil.
func NewSheetsWorker(store domain.SyncTaskStore, catalog Catalog, sheets SheetsClient, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	wl := logger.With().Str("component", "sheets_worker").Logger()

	return &SheetsWorker{
		store:        store,
		catalog:      catalog,
		sheets:       sheets,
		redis:        redisClient,
		retryPolicy:  retry.withDefaults(),
		queue:        make(chan models.SyncTask, localQueueLen),
		pollInterval: 2 * time.Second,
		batchSize:    20,
		now:          time.Now,
		logger:       &wl,
	}
}

// EnqueueTask persists a task and schedules it via redis or the in-memory queue.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType string, reservationID int64, reservation *models.Reservation, status string) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if reservationID == 0 && reservation != nil {
		reservationID = reservation.ID
	}
	if reservationID == 0 {
		return errors.New("reservation id is required")
	}

	return w.enqueue(ctx, taskType, sheetTaskPayload{
		ReservationID: reservationID,
		Reservation:   reservation,
		Status:        status,
	})
}

// EnqueueSyncRange schedules a full rewrite of the sheet with reservations
// overlapping [from, to).
func (w *SheetsWorker) EnqueueSyncRange(ctx context.Context, from, to time.Time) error {
	if !from.Before(to) {
		return errors.New("sync range is empty")
	}
	from, to = from.UTC(), to.UTC()
	return w.enqueue(ctx, TaskSyncRange, sheetTaskPayload{From: &from, To: &to})
}

func (w *SheetsWorker) enqueue(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:      taskType,
		ReservationID: payload.ReservationID,
		Payload:       string(payloadBytes),
		Status:        models.SyncStatusPending,
		CreatedAt:     w.now(),
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		err := w.pushList(ctx, redisQueueKey, &task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, using memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Subscribe maps reservation events to sync tasks.
func (w *SheetsWorker) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.ReservationEvents, w.HandleEvent)
}

func (w *SheetsWorker) HandleEvent(event *events.Event) error {
	payload, err := events.DecodeReservationPayload(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if event.Type == events.EventReservationDeleted {
		return w.EnqueueTask(ctx, TaskDelete, payload.ReservationID, nil, "")
	}
	return w.enqueue(ctx, TaskUpsert, sheetTaskPayload{
		ReservationID: payload.ReservationID,
		Reservation:   payload.Reservation,
		ResourceName:  payload.ResourceName,
	})
}

// Start runs the main loop until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.pollPending(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case t := <-w.queue:
				w.processTask(ctx, &t)
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// pollPending processes one batch of due tasks from the store.
func (w *SheetsWorker) pollPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	var payload sheetTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleSheetTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncSheetsTask(task.TaskType, models.SyncStatusCompleted)
}

func (w *SheetsWorker) handleSheetTask(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	switch taskType {
	case TaskUpsert:
		if payload.Reservation == nil {
			return errors.New("reservation payload missing")
		}
		return w.upsert(ctx, payload)
	case TaskDelete:
		if payload.ReservationID == 0 {
			return errors.New("reservation id missing")
		}
		return w.sheets.DeleteReservationRow(ctx, payload.ReservationID)
	case TaskUpdateStatus:
		if payload.ReservationID == 0 || payload.Status == "" {
			return errors.New("reservation id or status missing")
		}
		return w.sheets.UpdateReservationStatus(ctx, payload.ReservationID, payload.Status)
	case TaskSyncRange:
		if payload.From == nil || payload.To == nil {
			return errors.New("sync range missing")
		}
		return w.syncRange(ctx, *payload.From, *payload.To)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *SheetsWorker) upsert(ctx context.Context, payload sheetTaskPayload) error {
	r := payload.Reservation
	name := payload.ResourceName
	if w.catalog != nil {
		current, err := w.catalog.GetReservation(ctx, r.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			w.logger.Debug().Int64("reservation_id", r.ID).Msg("reservation gone, clearing row")
			return w.sheets.DeleteReservationRow(ctx, r.ID)
		case err != nil:
			return fmt.Errorf("load reservation %d: %w", r.ID, err)
		}
		if current.ResourceID != r.ResourceID {
			name = ""
		}
		r = current
	}
	if name == "" {
		name = w.resourceName(ctx, r.ResourceID)
	}
	return w.sheets.UpsertReservation(ctx, r, name)
}

func (w *SheetsWorker) syncRange(ctx context.Context, from, to time.Time) error {
	if w.catalog == nil {
		return errors.New("catalog is not configured")
	}
	list, err := w.catalog.ListReservations(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}

	names := make(map[int64]string)
	for _, r := range list {
		if _, ok := names[r.ResourceID]; !ok {
			names[r.ResourceID] = w.resourceName(ctx, r.ResourceID)
		}
	}
	return w.sheets.ReplaceReservationsSheet(ctx, list, names)
}

// resourceName falls back to "#id" when the resource cannot be read.
func (w *SheetsWorker) resourceName(ctx context.Context, id int64) string {
	if w.catalog != nil {
		res, err := w.catalog.GetResource(ctx, id)
		if err == nil {
			return res.DisplayName()
		}
		w.logger.Warn().Err(err).Int64("resource_id", id).Msg("resource lookup failed")
	}
	return fmt.Sprintf("#%d", id)
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.retryPolicy.NextRetryAt(w.now(), attempt)
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncSheetsTask(task.TaskType, models.SyncStatusRetry)
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Time("next_retry_at", next).
		Msg("sheet task failed, will retry")
}

func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncSheetsTask(task.TaskType, models.SyncStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task", task.TaskType).Msg("sheet task failed")

	if w.redis != nil {
		if err := w.pushList(ctx, deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
		}
	}
}

func (w *SheetsWorker) pushList(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
