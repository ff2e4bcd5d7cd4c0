package lifecycle

// Phase is the coarse state of the node.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseAwaitingSetup
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

var phaseNames = [...]string{"starting", "awaiting_setup", "running", "stopping", "stopped"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// ManualStep describes one administrator action required before the node
// may finish starting.
type ManualStep struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Stage describes startup progress. A published Stage is never modified;
// callers receive copies from Machine.Snapshot.
type Stage struct {
	Label   string       `json:"label"`
	Pending []ManualStep `json:"pending,omitempty"`
}

// Clone returns an independent copy of s.
func (s *Stage) Clone() *Stage {
	if s == nil {
		return nil
	}
	c := &Stage{Label: s.Label}
	if s.Pending != nil {
		c.Pending = make([]ManualStep, len(s.Pending))
		copy(c.Pending, s.Pending)
	}
	return c
}
