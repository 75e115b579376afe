// Package dispatch maps inbound action tokens to navigation transitions and
// remote executions, behind the access gate.
package dispatch

import (
	"errors"

	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
	"fleetbot/internal/registry"
)

// EffectKind is what the front end should do with an Effect.
type EffectKind int

const (
	// EffectNoop needs only an acknowledgement.
	EffectNoop EffectKind = iota
	// EffectRender shows State.
	EffectRender
	// EffectExecute shows State and reports that Job was launched.
	EffectExecute
	// EffectReject shows Reason as a transient notice; nothing changed.
	EffectReject
)

func (k EffectKind) String() string {
	switch k {
	case EffectNoop:
		return "noop"
	case EffectRender:
		return "render"
	case EffectExecute:
		return "execute"
	case EffectReject:
		return "reject"
	}
	return "unknown"
}

// Effect is the outcome of routing one action.
type Effect struct {
	Kind   EffectKind
	Verb   navigation.Verb
	State  navigation.State
	Job    models.Job
	Reason string
	Err    error
}

// Reject builds a rejection effect.
func Reject(err error) Effect {
	return Effect{Kind: EffectReject, Verb: navigation.VerbInvalid, Reason: Reason(err), Err: err}
}

// Reason turns an error from the taxonomy into the notice shown to the user.
func Reason(err error) string {
	switch {
	case errors.Is(err, models.ErrAccessDenied):
		return err.Error()
	case errors.Is(err, models.ErrStaleAction):
		return "This menu is out of date. Send /start to open a fresh one."
	case errors.Is(err, models.ErrInvalidPage):
		return "That page does not exist."
	case errors.Is(err, models.ErrInvalidIndex):
		return "That machine does not exist on this server."
	case errors.Is(err, models.ErrUnknownAction):
		return "Unknown action. Send /start to open a fresh menu."
	}
	return "Action failed: " + err.Error()
}

// Router is a pure function of (current state, token). It never touches the store.
type Router struct {
	registry *registry.Registry
	machine  *navigation.Machine
}

// NewRouter wires the registry into a navigation machine.
func NewRouter(reg *registry.Registry, serversPerPage, machinesPerPage int) *Router {
	return &Router{registry: reg, machine: navigation.NewMachine(reg, serversPerPage, machinesPerPage)}
}

// Machine exposes the navigation machine for rendering.
func (r *Router) Machine() *navigation.Machine {
	return r.machine
}

// Registry is the catalog the router resolves against.
func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// View renders a state with the registry resolver.
func (r *Router) View(st navigation.State) (navigation.View, error) {
	return r.machine.View(st, registry.Resolve)
}

// Route resolves token against cur. Job fields that identify the caller or the
// run (ID, User, Dest, Launched) are left for the dispatcher.
func (r *Router) Route(cur navigation.State, token string) Effect {
	if token == TokenNoop {
		return Effect{Kind: EffectNoop, State: cur}
	}
	action, err := ParseToken(token)
	if err != nil {
		return Reject(err)
	}
	tr, err := r.machine.Apply(cur, action)
	if err != nil {
		eff := Reject(err)
		eff.Verb = action.Verb
		return eff
	}
	if tr.Fire == "" {
		return Effect{Kind: EffectRender, Verb: action.Verb, State: tr.Next}
	}

	server, _ := r.registry.Get(action.Server)
	job := models.Job{Server: server, Mode: tr.Fire}
	if tr.Fire != models.ModeAll {
		addr, err := registry.Resolve(server, action.Machine)
		if err != nil {
			eff := Reject(err)
			eff.Verb = action.Verb
			return eff
		}
		job.Machine, job.Address = action.Machine, addr
	}
	return Effect{Kind: EffectExecute, Verb: action.Verb, State: tr.Next, Job: job}
}
