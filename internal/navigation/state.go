// Package navigation tracks where each user is in the
// server → machine → mode → confirm selection flow.
package navigation

import (
	"fmt"

	"fleetbot/internal/models"
)

// Kind names a navigation screen.
type Kind int

const (
	ServerList Kind = iota
	MachineList
	ModeSelect
	ForceConfirm
)

func (k Kind) String() string {
	switch k {
	case ServerList:
		return "server-list"
	case MachineList:
		return "machine-list"
	case ModeSelect:
		return "mode-select"
	case ForceConfirm:
		return "force-confirm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is one user's cursor. Fields not used by Kind stay zero, except
// ServerPage which remembers the server list page while deeper in the flow.
type State struct {
	Kind        Kind
	Server      string
	ServerPage  int
	MachinePage int
	Machine     int
}

// Initial is the state of a user seen for the first time.
func Initial() State {
	return State{Kind: ServerList}
}

func (s State) String() string {
	switch s.Kind {
	case ServerList:
		return fmt.Sprintf("ServerList(%d)", s.ServerPage)
	case MachineList:
		return fmt.Sprintf("MachineList(%s,%d)", s.Server, s.MachinePage)
	case ModeSelect:
		return fmt.Sprintf("ModeSelect(%s,%d)", s.Server, s.Machine)
	case ForceConfirm:
		return fmt.Sprintf("ForceConfirm(%s,%d)", s.Server, s.Machine)
	}
	return s.Kind.String()
}

// Ref returns the selected machine; valid in ModeSelect and ForceConfirm.
func (s State) Ref() models.MachineRef {
	return models.MachineRef{Server: s.Server, Index: s.Machine}
}
