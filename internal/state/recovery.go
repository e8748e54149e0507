package state

// Recover repairs a snapshot left behind by a crashed run. Tickets found
// in_progress or awaiting_validation return to ready when their
// dependencies are all completed and to pending otherwise; an epic left
// executing_wave returns to ready_to_execute. It returns the ids of reset
// tickets and whether anything changed. Recovering twice in a row changes
// nothing the second time.
func (e *Epic) Recover() (reset []string, changed bool) {
	for _, t := range e.OrderedTickets() {
		if !t.State.IsInFlight() {
			continue
		}
		if t.ResetStale(e.dependenciesCompleted(t)) {
			reset = append(reset, t.ID)
			changed = true
		}
	}
	if e.State == EpicExecutingWave {
		e.State = EpicReadyToExecute
		changed = true
	}
	return reset, changed
}

func (e *Epic) dependenciesCompleted(t *Ticket) bool {
	for _, dep := range t.DependsOn {
		d, ok := e.Tickets[dep]
		if !ok || d.State != TicketCompleted {
			return false
		}
	}
	return true
}
