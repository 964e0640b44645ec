package pipeline

import "fmt"

// Stage names a pipeline state. Transitions run strictly forward;
// Failed is terminal and reachable from every non-terminal stage.
type Stage string

const (
	StageInitialized         Stage = "initialized"
	StageSamplingParameters  Stage = "sampling_parameters"
	StageBuildingTrainingSet Stage = "building_training_set"
	StageTraining            Stage = "training"
	StageEvaluating          Stage = "evaluating"
	StagePackaging           Stage = "packaging"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)

// IsTerminal reports whether the stage ends a run.
func IsTerminal(s Stage) bool {
	return s == StageDone || s == StageFailed
}

// isAllowedTransition is the single source of truth for the state
// machine. Run drives transitions in a fixed order, so a violation
// here is a programming error, not a runtime condition.
func isAllowedTransition(from, to Stage) bool {
	if to == StageFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StageInitialized:
		return to == StageSamplingParameters
	case StageSamplingParameters:
		return to == StageBuildingTrainingSet
	case StageBuildingTrainingSet:
		return to == StageTraining
	case StageTraining:
		return to == StageEvaluating
	case StageEvaluating:
		return to == StagePackaging
	case StagePackaging:
		return to == StageDone
	default:
		return false
	}
}

// StageError reports which stage a run failed in and why. It is the
// only error Run returns.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed at %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }
