// Package execution defines the Execution aggregate that flows through the
// Producer, the Job Queue and the Worker, along with the status state
// machine and the validation rules applied at the Producer boundary.
package execution

import (
	"fmt"
	"time"
)

// Status is the execution's current lifecycle state. It is a closed string
// enum; adding a new value requires updating every switch that inspects it.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusAnalyzing Status = "ANALYZING"
	StatusPassed    Status = "PASSED"
	StatusFailed    Status = "FAILED"
	StatusUnstable  Status = "UNSTABLE"
	StatusError     Status = "ERROR"
)

// Terminal reports whether the status has no further legal transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusUnstable, StatusError:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the state machine from spec §3. A transition
// not listed here is rejected by CanTransition.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusPassed, StatusFailed, StatusUnstable, StatusAnalyzing, StatusError},
	StatusAnalyzing: {StatusFailed, StatusUnstable},
}

// CanTransition reports whether moving from one status to another is legal.
// Re-asserting the same status (idempotent re-broadcast after a crash) is
// always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Environment is the deployment environment a run targets.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the caller-supplied run configuration.
type Config struct {
	Environment   Environment       `json:"environment"`
	BaseURL       string            `json:"baseUrl,omitempty"`
	RetryAttempts int               `json:"retryAttempts"`
	EnvVars       map[string]string `json:"envVars,omitempty"`
}

// Validate enforces the invariants from spec §3/§4.1.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("config.environment must be one of development, staging, production, got %q", c.Environment)
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 5 {
		return fmt.Errorf("config.retryAttempts must be between 0 and 5, got %d", c.RetryAttempts)
	}
	return nil
}

// Execution is the central entity, keyed jointly by TaskID and OrganizationID.
type Execution struct {
	TaskID         string     `json:"taskId"`
	OrganizationID string     `json:"organizationId"`
	Status         Status     `json:"status"`
	Image          string     `json:"image"`
	Command        string     `json:"command"`
	Config         Config     `json:"config"`
	Tests          []string   `json:"tests,omitempty"`
	Folder         string     `json:"folder,omitempty"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	Analysis       string     `json:"analysis,omitempty"`
	ReportsBaseURL string     `json:"reportsBaseUrl,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Request is the payload accepted by POST /api/execution-request.
type Request struct {
	TaskID  string   `json:"taskId"`
	Image   string   `json:"image"`
	Command string   `json:"command"`
	Folder  string   `json:"folder,omitempty"`
	Config  Config   `json:"config"`
	Tests   []string `json:"tests,omitempty"`
}

// Validate enforces the request-level invariants from spec §4.1.
func (r Request) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("taskId is required")
	}
	if r.Image == "" {
		return fmt.Errorf("image is required")
	}
	if r.Command == "" {
		return fmt.Errorf("command is required")
	}
	return r.Config.Validate()
}

// NewFromRequest builds a PENDING Execution owned by organizationID from a
// validated Request.
func NewFromRequest(r Request, organizationID string, now time.Time) *Execution {
	return &Execution{
		TaskID:         r.TaskID,
		OrganizationID: organizationID,
		Status:         StatusPending,
		Image:          r.Image,
		Command:        r.Command,
		Config:         r.Config,
		Tests:          r.Tests,
		Folder:         r.Folder,
		StartTime:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// JobMessage is the payload published to and consumed from the Job Queue.
type JobMessage struct {
	TaskID         string   `json:"taskId"`
	OrganizationID string   `json:"organizationId"`
	Image          string   `json:"image"`
	Command        string   `json:"command"`
	Folder         string   `json:"folder,omitempty"`
	Config         Config   `json:"config"`
	Tests          []string `json:"tests,omitempty"`
}

// Valid reports whether the job carries the mandatory OrganizationID and
// TaskID. A job
// failing this check must be rejected without requeue (spec §4.2 step 1).
func (j JobMessage) Valid() bool {
	return j.OrganizationID != "" && j.TaskID != ""
}

func (e *Execution) ToJobMessage() JobMessage {
	return JobMessage{
		TaskID:         e.TaskID,
		OrganizationID: e.OrganizationID,
		Image:          e.Image,
		Command:        e.Command,
		Folder:         e.Folder,
		Config:         e.Config,
		Tests:          e.Tests,
	}
}
