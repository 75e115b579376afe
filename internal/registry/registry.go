// Package registry turns raw server blocks into the immutable table of
// backend descriptors and resolves machine indices to addresses.
package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"fleetbot/internal/config"
	"fleetbot/internal/models"
)

const (
	defaultUser          = "root"
	defaultAddressBase   = "192.168.1."
	defaultAddressOffset = 100
)

// Registry is read concurrently without locks; nothing mutates it after Load.
type Registry struct {
	order []string
	byID  map[string]models.ServerDescriptor
}

// Load validates blocks in order. Invalid blocks are dropped with one warning each.
// It fails with models.ErrConfig when nothing usable remains.
func Load(blocks []config.ServerBlock, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{byID: make(map[string]models.ServerDescriptor, len(blocks))}
	for i, b := range blocks {
		d, err := describe(i+1, b)
		if err == nil {
			if _, dup := r.byID[d.ID]; dup {
				err = fmt.Errorf("duplicate id %q", d.ID)
			}
		}
		if err != nil {
			logger.Warn().Str("source", b.Source).Str("host", b.Host).Err(err).Msg("server descriptor rejected")
			continue
		}
		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: no valid servers configured", models.ErrConfig)
	}
	logger.Info().Int("servers", len(r.order)).Msg("server registry loaded")
	return r, nil
}

func describe(ordinal int, b config.ServerBlock) (models.ServerDescriptor, error) {
	d := models.ServerDescriptor{
		ID:          strings.TrimSpace(b.ID),
		Name:        strings.TrimSpace(b.Name),
		Host:        strings.TrimSpace(b.Host),
		Port:        b.Port,
		User:        strings.TrimSpace(b.Username),
		Password:    b.Password,
		KeyPath:     strings.TrimSpace(b.KeyPath),
		Machines:    b.Machines,
		Location:    strings.TrimSpace(b.Location),
		AddressBase: strings.TrimSpace(b.AddressBase),
	}
	if d.ID == "" {
		d.ID = strconv.Itoa(ordinal)
	}
	if strings.ContainsAny(d.ID, ": ") {
		return d, fmt.Errorf("id %q must not contain ':' or spaces", d.ID)
	}
	if d.Host == "" {
		return d, fmt.Errorf("host is required")
	}
	if d.Password == "" && d.KeyPath == "" {
		return d, fmt.Errorf("password or key_path is required")
	}
	if d.Machines <= 0 {
		return d, fmt.Errorf("machines must be positive, got %d", d.Machines)
	}
	if d.Port < 0 || d.Port > 65535 {
		return d, fmt.Errorf("port %d out of range", d.Port)
	}
	if d.Port == 0 {
		d.Port = 22
	}
	if d.Name == "" {
		d.Name = "Server " + d.ID
	}
	if d.User == "" {
		d.User = defaultUser
	}
	if d.AddressBase == "" {
		d.AddressBase = defaultAddressBase
	}
	d.AddressOffset = defaultAddressOffset
	if b.AddressOffset != nil {
		d.AddressOffset = *b.AddressOffset
	}
	if d.AddressOffset < 0 {
		return d, fmt.Errorf("address_offset must not be negative")
	}
	if strings.HasSuffix(d.AddressBase, ".") && d.AddressOffset+d.Machines > 255 {
		return d, fmt.Errorf("address_offset %d + machines %d exceeds the last octet", d.AddressOffset, d.Machines)
	}
	return d, nil
}

// Get looks up a descriptor by id.
func (r *Registry) Get(id string) (models.ServerDescriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Len is the number of servers.
func (r *Registry) Len() int {
	return len(r.order)
}

// List returns descriptors in configuration order.
func (r *Registry) List() []models.ServerDescriptor {
	out := make([]models.ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Slice returns servers [start, end) in configuration order.
func (r *Registry) Slice(start, end int) []models.ServerDescriptor {
	start = max(start, 0)
	end = min(end, len(r.order))
	if start >= end {
		return nil
	}
	out := make([]models.ServerDescriptor, 0, end-start)
	for _, id := range r.order[start:end] {
		out = append(out, r.byID[id])
	}
	return out
}
