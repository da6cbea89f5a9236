package session

import "fmt"

// Phase is a state of the session state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRecording
	PhaseStopping
	PhaseTranscribing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRecording:
		return "recording"
	case PhaseStopping:
		return "stopping"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseRecording, PhaseFailed},
	PhaseRecording:    {PhaseStopping},
	PhaseStopping:     {PhaseTranscribing, PhaseFailed},
	PhaseTranscribing: {PhaseDone, PhaseFailed},
}

func canTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
