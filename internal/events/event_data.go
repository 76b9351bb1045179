package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Optimization lifecycle events
	OptimizationStarted   EventType = "OPTIMIZATION_STARTED"
	OptimizationProgress  EventType = "OPTIMIZATION_PROGRESS"
	OptimizationCompleted EventType = "OPTIMIZATION_COMPLETED"
	OptimizationFailed    EventType = "OPTIMIZATION_FAILED"
	OptimizationCancelled EventType = "OPTIMIZATION_CANCELLED"

	// Backend resource events
	SamplerAcquired  EventType = "SAMPLER_ACQUIRED"
	QuantumJobPolled EventType = "QUANTUM_JOB_POLLED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type the system emits. Used by
// consumers that want the full stream.
func AllEventTypes() []EventType {
	return []EventType{
		OptimizationStarted,
		OptimizationProgress,
		OptimizationCompleted,
		OptimizationFailed,
		OptimizationCancelled,
		SamplerAcquired,
		QuantumJobPolled,
		ErrorOccurred,
	}
}

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Event represents a system event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// OptimizationStartedData contains data for OptimizationStarted events
type OptimizationStartedData struct {
	JobID string `json:"job_id"`
}

// EventType returns the event type for OptimizationStartedData
func (d *OptimizationStartedData) EventType() EventType {
	return OptimizationStarted
}

// OptimizationProgressData contains data for OptimizationProgress events.
// Percent is 0-100.
type OptimizationProgressData struct {
	JobID   string `json:"job_id"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// EventType returns the event type for OptimizationProgressData
func (d *OptimizationProgressData) EventType() EventType {
	return OptimizationProgress
}

// OptimizationCompletedData contains data for OptimizationCompleted events
type OptimizationCompletedData struct {
	JobID   string                 `json:"job_id"`
	Payload map[string]interface{} `json:"payload"`
}

// EventType returns the event type for OptimizationCompletedData
func (d *OptimizationCompletedData) EventType() EventType {
	return OptimizationCompleted
}

// OptimizationFailedData contains data for OptimizationFailed events
type OptimizationFailedData struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// EventType returns the event type for OptimizationFailedData
func (d *OptimizationFailedData) EventType() EventType {
	return OptimizationFailed
}

// OptimizationCancelledData contains data for OptimizationCancelled events
type OptimizationCancelledData struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// EventType returns the event type for OptimizationCancelledData
func (d *OptimizationCancelledData) EventType() EventType {
	return OptimizationCancelled
}

// SamplerAcquiredData contains data for SamplerAcquired events
type SamplerAcquiredData struct {
	Backend       string  `json:"backend"`
	Tier          string  `json:"tier"`
	Shots         int     `json:"shots"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// EventType returns the event type for SamplerAcquiredData
func (d *SamplerAcquiredData) EventType() EventType {
	return SamplerAcquired
}

// QuantumJobPolledData contains data for QuantumJobPolled events.
// Emitted once per poll tick while a remote sampling job is monitored.
type QuantumJobPolledData struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

// EventType returns the event type for QuantumJobPolledData
func (d *QuantumJobPolledData) EventType() EventType {
	return QuantumJobPolled
}

// ErrorOccurredData contains data for ErrorOccurred events
type ErrorOccurredData struct {
	Module string `json:"module"`
	Error  string `json:"error"`
}

// EventType returns the event type for ErrorOccurredData
func (d *ErrorOccurredData) EventType() EventType {
	return ErrorOccurred
}
