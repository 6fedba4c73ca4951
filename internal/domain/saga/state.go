package saga

import "time"

type Status string

const (
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
	StatusCompensating Status = "COMPENSATING"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type StepStatus string

const (
	StepStarted     StepStatus = "started"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// StepRecord is one entry of the append-only step history.
type StepRecord struct {
	Step      string     `json:"step"`
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

// State is the persisted execution state of one saga instance. The
// orchestrator owns it exclusively for the instance's lifetime and persists
// it after every mutation.
type State struct {
	SagaId        string         `json:"sagaId"`
	SagaType      string         `json:"sagaType"`
	AggregateId   string         `json:"aggregateId"`
	CurrentStep   string         `json:"currentStep"`
	StepHistory   []StepRecord   `json:"stepHistory"`
	Data          map[string]any `json:"data"`
	CorrelationId string         `json:"correlationId"`
	TenantId      string         `json:"tenantId"`
	Status        Status         `json:"status"`
}

func (s *State) recordStep(step string, status StepStatus, errMsg string) {
	s.StepHistory = append(s.StepHistory, StepRecord{
		Step:      step,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	})
}

// StepCompleted reports whether the step already has a completed entry in the
// history. Used to skip steps when a suspended saga is resumed.
func (s *State) StepCompleted(step string) bool {
	for _, record := range s.StepHistory {
		if record.Step == step && record.Status == StepCompleted {
			return true
		}
	}
	return false
}

func (s *State) mergeData(data map[string]any) {
	if len(data) == 0 {
		return
	}
	if s.Data == nil {
		s.Data = make(map[string]any, len(data))
	}
	for k, v := range data {
		s.Data[k] = v
	}
}
