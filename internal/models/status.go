package models

// StepStatus represents the externally tracked state of a job step.
// The pipeline never persists these locally - every transition
// round-trips to the status tracker service.
type StepStatus string

const (
	StatusNotStarted StepStatus = "NOT_STARTED"
	StatusInProgress StepStatus = "IN_PROGRESS"
	StatusComplete   StepStatus = "COMPLETE"
	StatusFailed     StepStatus = "FAILED"
)

// String returns the string representation of the StepStatus
func (s StepStatus) String() string {
	return string(s)
}

// StepType identifies a pipeline stage for status tracking and
// routing. One step type per deployed service.
type StepType string

const (
	StepTypeGateway   StepType = "gateway"
	StepTypeFetch     StepType = "fetch"
	StepTypeSummarize StepType = "summarize"
	StepTypeStore     StepType = "store"
)

// IsValid checks if the StepType is a known, valid type
func (s StepType) IsValid() bool {
	switch s {
	case StepTypeGateway, StepTypeFetch, StepTypeSummarize, StepTypeStore:
		return true
	}
	return false
}

// String returns the string representation of the StepType
func (s StepType) String() string {
	return string(s)
}

// stepTypeNames maps internal step identifiers to the step-type
// strings the tracker service knows about.
var stepTypeNames = map[StepType]string{
	StepTypeGateway:   "gateway",
	StepTypeFetch:     "data_processing",
	StepTypeSummarize: "data_processing_llm",
	StepTypeStore:     "data_sink",
}

// ExternalName returns the tracker-facing name for a step type.
// Unknown step types map to their raw value.
func (s StepType) ExternalName() string {
	if name, ok := stepTypeNames[s]; ok {
		return name
	}
	return string(s)
}
