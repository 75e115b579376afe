package models

import (
	"fmt"
	"strconv"
)

// ServerDescriptor describes one backend host and how to reach it.
// Built once by the registry and never mutated afterwards.
type ServerDescriptor struct {
	ID            string // stable identifier used in action tokens
	Name          string // display name
	Host          string // IP or hostname of the backend
	Port          int    // SSH port, 22 when unset
	User          string // login user
	Password      string // password auth (one of Password / KeyPath)
	KeyPath       string // private key path
	Machines      int    // number of machines behind this backend
	Location      string // free-form location label
	AddressBase   string // address prefix, e.g. "192.168.1."
	AddressOffset int    // added to the 1-based machine index
}

// SSHPort returns the configured port or 22.
func (s ServerDescriptor) SSHPort() int {
	if s.Port > 0 {
		return s.Port
	}
	return 22
}

// Addr is host:port for dialing.
func (s ServerDescriptor) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.SSHPort())
}

// MachineRef points at one machine behind a server. Index is 1-based.
type MachineRef struct {
	Server string
	Index  int
}

// Label renders the index the way operators know it: PC-07.
func (m MachineRef) Label() string {
	return MachineLabel(m.Index)
}

// MachineLabel formats a 1-based machine index.
func MachineLabel(index int) string {
	if index < 10 {
		return "PC-0" + strconv.Itoa(index)
	}
	return "PC-" + strconv.Itoa(index)
}
