package domain

// Stage is the workflow position of a SearchSession.
type Stage string

const (
	StageCreated           Stage = "created"
	StageDetected          Stage = "detected"
	StageAwaitingSelection Stage = "awaiting_selection"
	StageResolvedSingle    Stage = "resolved_single"
	StageSearched          Stage = "searched"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// transitions lists the stages reachable from each stage within one pass.
// StageFailed is added for every non-terminal stage by CanTransition.
var transitions = map[Stage][]Stage{
	StageCreated:           {StageDetected},
	StageDetected:          {StageAwaitingSelection, StageResolvedSingle},
	StageAwaitingSelection: {StageResolvedSingle},
	StageResolvedSingle:    {StageSearched},
	StageSearched:          {StageCompleted},
}

// IsTerminal reports whether a pass ends at this stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsValid reports whether s is one of the known stages.
func (s Stage) IsValid() bool {
	switch s {
	case StageCreated, StageDetected, StageAwaitingSelection, StageResolvedSingle,
		StageSearched, StageCompleted, StageFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed inside a single pass.
func CanTransition(from, to Stage) bool {
	if !from.IsValid() || from.IsTerminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
