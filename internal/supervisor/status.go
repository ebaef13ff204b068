package supervisor

import "time"

// WorkerStatus is the live view of one fleet member.
type WorkerStatus struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	RunID   string         `json:"run_id,omitempty"`
	Phase   string         `json:"phase"`
	Workers []WorkerStatus `json:"workers"`
}

// Snapshot returns the current status. Safe to call from any goroutine.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{RunID: s.runID, Phase: s.phase, Workers: []WorkerStatus{}}
	if st.Phase == "" {
		st.Phase = PhaseIdle
	}
	for _, h := range s.handles {
		ws := WorkerStatus{Name: h.Name(), PID: h.PID(), Alive: h.Alive(), StartedAt: h.started}
		if h.reaped() {
			code := h.exitCode
			ws.ExitCode = &code
		}
		st.Workers = append(st.Workers, ws)
	}
	return st
}

// WorkerLog returns the buffered output of the named worker of the current
// or last run.
func (s *Supervisor) WorkerLog(name string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if h.Name() == name {
			return h.Tail(0), true
		}
	}
	return nil, false
}

func (s *Supervisor) setPhase(p string) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Supervisor) track(h *Handle) {
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
}
