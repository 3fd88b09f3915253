package interfaces

import "time"

// TaskStatus represents the current status of a scheduled task
type TaskStatus struct {
	Name        string
	Enabled     bool
	Schedule    string
	Description string
	LastRun     *time.Time
	NextRun     *time.Time
	IsRunning   bool
	LastError   string
}

// SchedulerService manages cron-based scheduling
type SchedulerService interface {
	// Start the scheduler
	Start() error

	// Stop the scheduler
	Stop() error

	// TriggerScrapeNow manually triggers a scrape cycle, bypassing the
	// daytime window but not the per-source circuit breakers
	TriggerScrapeNow() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// RegisterTask registers a new task with the scheduler
	RegisterTask(name string, schedule string, description string, handler func() error) error

	// EnableTask enables a disabled task
	EnableTask(name string) error

	// DisableTask disables an enabled task
	DisableTask(name string) error

	// GetTaskStatus returns the status of a specific task
	GetTaskStatus(name string) (*TaskStatus, error)

	// GetAllTaskStatuses returns all task statuses
	GetAllTaskStatuses() map[string]*TaskStatus
}
