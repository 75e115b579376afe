package auth

import (
	"fmt"

	"github.com/rs/zerolog"

	"fleetbot/internal/models"
)

// Gate is the allow/deny check run before every inbound action.
// An empty allow-set means open mode: everyone passes.
type Gate struct {
	allowed map[int64]struct{}
}

// NewGate logs loudly when the gate is open.
func NewGate(ids []int64, logger zerolog.Logger) *Gate {
	g := &Gate{allowed: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		g.allowed[id] = struct{}{}
	}
	if g.Open() {
		logger.Warn().Msg("ACCESS GATE OPEN: allowed_users is empty, every chat user may trigger updates")
	} else {
		logger.Info().Int("users", len(g.allowed)).Msg("access gate restricted to allow-list")
	}
	return g
}

// Open reports open mode.
func (g *Gate) Open() bool {
	return len(g.allowed) == 0
}

// Allowed is the membership check.
func (g *Gate) Allowed(user int64) bool {
	if g.Open() {
		return true
	}
	_, ok := g.allowed[user]
	return ok
}

// Check returns ErrAccessDenied naming the user so they can ask to be enrolled.
func (g *Gate) Check(user int64) error {
	if g.Allowed(user) {
		return nil
	}
	return fmt.Errorf("%w: your user id is %d, ask an administrator to add it", models.ErrAccessDenied, user)
}
