package models

const (
	SyncStatusPending   = "pending"
	SyncStatusRetry     = "retry"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

const (
	// DefaultMaxAdvanceDays bounds how far ahead a reservation may start.
	DefaultMaxAdvanceDays = 365

	// DefaultUTCOffset is used for wall-clock input without an explicit offset.
	DefaultUTCOffset = "+03:00"

	// DefaultLockTTL seconds a per-resource lock lives in Redis.
	DefaultLockTTL = 15

	// DefaultLockWait seconds a caller waits for a busy resource.
	DefaultLockWait = 5

	NotificationQueueSize = 256
	NotificationWorkers   = 2

	// NotificationSendTimeout seconds for a single gateway attempt.
	NotificationSendTimeout = 10

	// SheetsCacheTTL seconds between full row-index refreshes.
	SheetsCacheTTL = 60 * 60
)
