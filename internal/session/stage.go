// Package session holds the resumable state of one pipeline run between
// stages and operator interactions. The store serializes mutations per
// session and owns the single global run lock.
package session

// Stage is the lifecycle state of a pipeline session.
type Stage string

// Session stages. Cancelled and Failed are terminal and reachable from
// any non-terminal stage.
const (
	StageCreated    Stage = "CREATED"
	StageGeoDone    Stage = "GEO_DONE"
	StageStage1Done Stage = "STAGE1_DONE"
	StageStage2Done Stage = "STAGE2_DONE"
	StageCancelled  Stage = "CANCELLED"
	StageFailed     Stage = "FAILED"
)

// Result-set keys for the two assessment intensities.
const (
	ResultsStage1 = "stage1"
	ResultsStage2 = "stage2"
)

// Terminal reports whether the stage admits no further transitions.
func (s Stage) Terminal() bool {
	switch s {
	case StageStage2Done, StageCancelled, StageFailed:
		return true
	}
	return false
}

var forwardTransitions = map[Stage]Stage{
	StageCreated:    StageGeoDone,
	StageGeoDone:    StageStage1Done,
	StageStage1Done: StageStage2Done,
}

// CanTransition validates a stage change against the state machine:
// strictly forward along the pipeline, or into Cancelled/Failed from any
// non-terminal stage.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageCancelled || to == StageFailed {
		return true
	}
	return forwardTransitions[from] == to
}
