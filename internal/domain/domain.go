package domain

import (
	"errors"
	"time"
)

type TaskState string

const (
	StateQueued    TaskState = "QUEUED"
	StateRunning   TaskState = "RUNNING"
	StateSuccess   TaskState = "SUCCESS"
	StateFailed    TaskState = "FAILED"
	StateCancelled TaskState = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s TaskState) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateCancelled
}

// TaskInput is the caller-supplied payload a pipeline run works on.
type TaskInput struct {
	MainURL       string `json:"main_url"`
	AssistantName string `json:"assistant_name,omitempty"`
}

// Task is the persisted record of one multi-step job. Exactly one record
// exists per ID; Result and ErrorMessage are mutually exclusive.
type Task struct {
	ID string `json:"task_id"`

	State       TaskState `json:"state"`
	Percent     int       `json:"percent"`
	CurrentStep string    `json:"current_step,omitempty"`

	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Input TaskInput `json:"input"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step describes one weighted unit of pipeline work. Weight is the share of
// total progress (0-100) attributed to the step.
type Step struct {
	Name   string
	Weight int
}

type CreateResponse struct {
	TaskID  string    `json:"task_id"`
	State   TaskState `json:"state"`
	Percent int       `json:"percent"`
	Links   Links     `json:"links"`
}

type Links struct {
	Status string `json:"status"`
	Events string `json:"events"`
}

type CancelResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTaskNotFound     = errors.New("task not found")
	ErrKeyNotFound      = errors.New("key not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransientError marks a collaborator failure worth retrying: network
// errors, timeouts, rate limits, upstream 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a domain failure that fails the task immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
