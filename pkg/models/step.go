package models

// Step is the current position of an orchestration attempt in its lifecycle
type Step string

const (
	StepIdle                Step = "Idle"
	StepResolvingCharge     Step = "ResolvingCharge"
	StepPlanningRoute       Step = "PlanningRoute"
	StepAligningNetwork     Step = "AligningNetwork"
	StepSigning             Step = "Signing"
	StepConfirming          Step = "Confirming"
	StepRecordingSettlement Step = "RecordingSettlement"
	StepSuccess             Step = "Success"
	StepError               Step = "Error"
)

// Terminal reports whether the step ends the attempt
func (s Step) Terminal() bool {
	return s == StepSuccess || s == StepError
}
