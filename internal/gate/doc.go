// Package gate implements the named predicates that authorize ticket state
// transitions.
//
// Every transition the orchestrator applies past pending is guarded by one
// gate:
//
//	pending → ready                        DependenciesMet
//	ready → branch_created                 BranchCreation
//	branch_created → in_progress           Concurrency
//	awaiting_validation → completed        Validation
//
// A gate consumes the ticket plus a shared [Context] and returns a [Result].
// Gates never mutate the ticket; BranchCreation reports the branch it made
// through Result.Metadata and the orchestrator records it.
//
// # Usage
//
//	gc := &gate.Context{Epic: epic, Graph: g, Repo: repo, Remote: "origin"}
//	if res := gate.NewBranchCreation().Check(ctx, ticket, gc); !res.Passed {
//		ticket.Fail(res.Reason, now)
//	}
//
// The in-flight limit lives only in [Concurrency]; raising it does not touch
// any other gate or the state tables.
package gate
