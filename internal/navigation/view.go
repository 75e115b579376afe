package navigation

import (
	"fmt"

	"fleetbot/internal/models"
)

// View is everything a front end needs to draw one state.
type View struct {
	State State
	Page  int // 0-based page of the list being shown
	Pages int

	// ServerList
	Servers    []models.ServerDescriptor
	ServerFrom int // 1-based position of the first listed server
	ServerTo   int
	ServerNum  int

	// MachineList, ModeSelect, ForceConfirm
	Server   models.ServerDescriptor
	Machines []int
	Address  string // resolved address in ModeSelect / ForceConfirm
}

// Resolver maps a machine index to an address.
type Resolver func(d models.ServerDescriptor, index int) (string, error)

// View computes what a front end draws for st.
func (m *Machine) View(st State, resolve Resolver) (View, error) {
	v := View{State: st}
	switch st.Kind {
	case ServerList:
		count := m.catalog.Len()
		start, end, err := Bounds(count, m.serversPerPage, st.ServerPage)
		if err != nil {
			return v, err
		}
		v.Page, v.Pages = st.ServerPage, Pages(count, m.serversPerPage)
		v.Servers = m.catalog.Slice(start, end)
		v.ServerFrom, v.ServerTo, v.ServerNum = start+1, end, count
		return v, nil
	}

	d, ok := m.catalog.Get(st.Server)
	if !ok {
		return v, fmt.Errorf("%w: server %q is not configured", models.ErrUnknownAction, st.Server)
	}
	v.Server = d
	switch st.Kind {
	case MachineList:
		machines, err := MachinePage(d.Machines, m.machinesPerPage, st.MachinePage)
		if err != nil {
			return v, err
		}
		v.Page, v.Pages, v.Machines = st.MachinePage, Pages(d.Machines, m.machinesPerPage), machines
	case ModeSelect, ForceConfirm:
		addr, err := resolve(d, st.Machine)
		if err != nil {
			return v, err
		}
		v.Address = addr
	}
	return v, nil
}
