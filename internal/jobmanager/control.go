package jobmanager

// controlKind tags a control-plane command.
type controlKind string

const (
	controlRefresh  controlKind = "REFRESH_EXPERT_SCHEDULES"
	controlShutdown controlKind = "SHUTDOWN"
)

// controlCommand is one message on the control channel. ExpertID is nil for
// a full refresh of every enabled expert instance.
type controlCommand struct {
	kind     controlKind
	expertID *int64
	done     chan struct{} // closed once the command has been processed; nil for fire-and-forget
}

// RefreshExpertSchedules asynchronously re-materialises the cron jobs for a
// single expert instance (expertID != nil) or every enabled instance
// (expertID == nil). It enqueues the command and returns immediately; a
// dedicated consumer goroutine runs the actual (blocking) refresh serially,
// so callers (typically an HTTP handler toggling an expert on or off) never
// block on the scheduler's lock.
func (m *Manager) RefreshExpertSchedules(expertID *int64) {
	m.control <- controlCommand{kind: controlRefresh, expertID: expertID}
}

// RefreshExpertSchedulesSync is like RefreshExpertSchedules but blocks until
// the refresh has actually run; used by Start for the initial materialisation.
func (m *Manager) RefreshExpertSchedulesSync(expertID *int64) {
	done := make(chan struct{})
	m.control <- controlCommand{kind: controlRefresh, expertID: expertID, done: done}
	<-done
}

// requestShutdown enqueues the terminal command that stops the control loop.
func (m *Manager) requestShutdown() {
	m.control <- controlCommand{kind: controlShutdown}
}

// runControlLoop serialises every control-plane command against the
// scheduler so concurrent refresh requests never race each other.
func (m *Manager) runControlLoop() {
	for cmd := range m.control {
		switch cmd.kind {
		case controlRefresh:
			if cmd.expertID != nil {
				if err := m.refreshExpertSchedule(m.bgCtx, *cmd.expertID); err != nil {
					m.log.Error().Err(err).Int64("expert_instance_id", *cmd.expertID).Msg("failed to refresh expert schedule")
				}
			} else {
				m.refreshAllSchedules(m.bgCtx)
			}
			if cmd.done != nil {
				close(cmd.done)
			}
		case controlShutdown:
			if cmd.done != nil {
				close(cmd.done)
			}
			return
		}
	}
}
