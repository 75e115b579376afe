package navigation

import (
	"fmt"

	"fleetbot/internal/config"
	"fleetbot/internal/models"
)

// Verb is a navigation action.
type Verb int

const (
	VerbMenu Verb = iota
	VerbServerPage
	VerbPickServer
	VerbMachinePage
	VerbPickMachine
	VerbBackToServers
	VerbUpdateAll
	VerbNormal
	VerbForce
	VerbBack
	VerbConfirm
	VerbCancel

	// VerbInvalid labels tokens that did not parse.
	VerbInvalid Verb = -1
)

var verbNames = map[Verb]string{
	VerbMenu:          "menu",
	VerbServerPage:    "server-page",
	VerbPickServer:    "pick-server",
	VerbMachinePage:   "machine-page",
	VerbPickMachine:   "pick-machine",
	VerbBackToServers: "back-to-servers",
	VerbUpdateAll:     "update-all",
	VerbNormal:        "normal",
	VerbForce:         "force-confirm",
	VerbBack:          "back",
	VerbConfirm:       "confirm",
	VerbCancel:        "cancel",
	VerbInvalid:       "invalid",
}

func (v Verb) String() string {
	if n, ok := verbNames[v]; ok {
		return n
	}
	return fmt.Sprintf("verb(%d)", int(v))
}

// Action is a parsed user action. Unused fields are zero.
type Action struct {
	Verb    Verb
	Server  string
	Page    int
	Machine int
}

// Transition is the result of applying an Action.
// Fire is empty unless the action launches an execution.
type Transition struct {
	Next State
	Fire models.Mode
}

// Catalog is the part of the registry the machine needs.
type Catalog interface {
	Get(id string) (models.ServerDescriptor, bool)
	Len() int
	Slice(start, end int) []models.ServerDescriptor
}

// Machine applies the transition table. It holds no per-user data.
type Machine struct {
	catalog         Catalog
	serversPerPage  int
	machinesPerPage int
}

// NewMachine builds a Machine; non-positive page sizes fall back to the config defaults.
func NewMachine(catalog Catalog, serversPerPage, machinesPerPage int) *Machine {
	if serversPerPage <= 0 {
		serversPerPage = config.DefaultServersPerPage
	}
	if machinesPerPage <= 0 {
		machinesPerPage = config.DefaultMachinesPerPage
	}
	return &Machine{catalog: catalog, serversPerPage: serversPerPage, machinesPerPage: machinesPerPage}
}

// ServersPerPage is the server list page size.
func (m *Machine) ServersPerPage() int { return m.serversPerPage }

// MachinesPerPage is the machine list page size.
func (m *Machine) MachinesPerPage() int { return m.machinesPerPage }

// Apply computes the next state. On error the caller must keep cur unchanged.
// An action that is not valid from cur is still accepted when it would only
// re-render cur, so repeated taps on the same button are harmless.
func (m *Machine) Apply(cur State, a Action) (Transition, error) {
	var server models.ServerDescriptor
	if a.Verb != VerbMenu && a.Verb != VerbServerPage {
		d, ok := m.catalog.Get(a.Server)
		if !ok {
			return Transition{}, fmt.Errorf("%w: server %q is not configured", models.ErrUnknownAction, a.Server)
		}
		server = d
	}

	next, fire, err := m.target(cur, a, server)
	if err != nil {
		return Transition{}, err
	}
	if !m.allowedFrom(cur, a) {
		if fire == "" && sameScreen(cur, next) {
			return Transition{Next: cur}, nil
		}
		return Transition{}, fmt.Errorf("%w: %s from %s", models.ErrStaleAction, a.Verb, cur)
	}
	return Transition{Next: next, Fire: fire}, nil
}

// target validates the action arguments and returns where it leads.
func (m *Machine) target(cur State, a Action, server models.ServerDescriptor) (State, models.Mode, error) {
	switch a.Verb {
	case VerbMenu:
		return Initial(), "", nil
	case VerbServerPage:
		if _, _, err := Bounds(m.catalog.Len(), m.serversPerPage, a.Page); err != nil {
			return State{}, "", err
		}
		return State{Kind: ServerList, ServerPage: a.Page}, "", nil
	case VerbPickServer:
		return State{Kind: MachineList, Server: server.ID, ServerPage: cur.ServerPage}, "", nil
	case VerbMachinePage:
		if _, _, err := Bounds(server.Machines, m.machinesPerPage, a.Page); err != nil {
			return State{}, "", err
		}
		return State{Kind: MachineList, Server: server.ID, ServerPage: cur.ServerPage, MachinePage: a.Page}, "", nil
	case VerbBackToServers:
		return Initial(), "", nil
	case VerbUpdateAll:
		return cur, models.ModeAll, nil
	}

	if a.Machine < 1 || a.Machine > server.Machines {
		return State{}, "", fmt.Errorf("%w: %d not in 1..%d", models.ErrInvalidIndex, a.Machine, server.Machines)
	}
	at := func(k Kind) State {
		return State{Kind: k, Server: server.ID, ServerPage: cur.ServerPage, MachinePage: cur.MachinePage, Machine: a.Machine}
	}
	switch a.Verb {
	case VerbPickMachine:
		s := at(ModeSelect)
		s.MachinePage = PageOf(a.Machine, m.machinesPerPage)
		return s, "", nil
	case VerbNormal:
		return cur, models.ModeNormal, nil
	case VerbForce:
		return at(ForceConfirm), "", nil
	case VerbBack:
		return State{Kind: MachineList, Server: server.ID, ServerPage: cur.ServerPage}, "", nil
	case VerbConfirm:
		return at(ModeSelect), models.ModeForce, nil
	case VerbCancel:
		return at(ModeSelect), "", nil
	}
	return State{}, "", fmt.Errorf("%w: verb %d", models.ErrUnknownAction, int(a.Verb))
}

// allowedFrom encodes which screen each verb belongs to.
func (m *Machine) allowedFrom(cur State, a Action) bool {
	switch a.Verb {
	case VerbMenu:
		return true
	case VerbServerPage, VerbPickServer:
		return cur.Kind == ServerList
	case VerbMachinePage, VerbPickMachine, VerbBackToServers, VerbUpdateAll:
		return cur.Kind == MachineList && cur.Server == a.Server
	case VerbNormal, VerbForce, VerbBack:
		return cur.Kind == ModeSelect && cur.Server == a.Server && cur.Machine == a.Machine
	case VerbConfirm, VerbCancel:
		return cur.Kind == ForceConfirm && cur.Server == a.Server && cur.Machine == a.Machine
	}
	return false
}

// sameScreen compares what the user sees, ignoring remembered pages of other screens.
func sameScreen(a, b State) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ServerList:
		return a.ServerPage == b.ServerPage
	case MachineList:
		return a.Server == b.Server && a.MachinePage == b.MachinePage
	default:
		return a.Server == b.Server && a.Machine == b.Machine
	}
}
