package gate

import (
	"context"

	"github.com/Iron-Ham/epicrun/internal/state"
)

// DependenciesMet passes iff every dependency of the ticket is completed.
type DependenciesMet struct{}

// NewDependenciesMet creates the pending → ready gate.
func NewDependenciesMet() *DependenciesMet {
	return &DependenciesMet{}
}

// Name implements Gate.
func (g *DependenciesMet) Name() string { return "dependencies_met" }

// Check implements Gate.
func (g *DependenciesMet) Check(_ context.Context, t *state.Ticket, gc *Context) Result {
	for _, dep := range t.DependsOn {
		d, ok := gc.Epic.Ticket(dep)
		if !ok {
			return Failf("dependency %s does not exist", dep)
		}
		if d.State != state.TicketCompleted {
			return Failf("dependency %s is %s", dep, d.State)
		}
	}
	return Pass("all dependencies completed")
}
