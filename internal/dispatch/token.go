package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
	"fleetbot/internal/registry"
)

// Action tokens are short colon-delimited strings that fit in a 64-byte
// callback payload: a verb followed by its arguments.
const (
	TokenMenu = "menu"
	TokenNoop = "noop"
)

type tokenShape struct {
	verb    navigation.Verb
	server  bool
	page    bool
	machine bool
}

var shapes = map[string]tokenShape{
	"menu": {verb: navigation.VerbMenu},
	"sp":   {verb: navigation.VerbServerPage, page: true},
	"srv":  {verb: navigation.VerbPickServer, server: true},
	"mp":   {verb: navigation.VerbMachinePage, server: true, page: true},
	"pc":   {verb: navigation.VerbPickMachine, server: true, machine: true},
	"home": {verb: navigation.VerbBackToServers, server: true},
	"all":  {verb: navigation.VerbUpdateAll, server: true},
	"run":  {verb: navigation.VerbNormal, server: true, machine: true},
	"frc":  {verb: navigation.VerbForce, server: true, machine: true},
	"back": {verb: navigation.VerbBack, server: true, machine: true},
	"ok":   {verb: navigation.VerbConfirm, server: true, machine: true},
	"no":   {verb: navigation.VerbCancel, server: true, machine: true},
}

var verbTokens = func() map[navigation.Verb]string {
	m := make(map[navigation.Verb]string, len(shapes))
	for name, s := range shapes {
		m[s.verb] = name
	}
	return m
}()

// ParseToken turns a token into an Action. Malformed tokens are ErrUnknownAction;
// a machine argument that is not a positive integer is ErrInvalidIndex.
func ParseToken(token string) (navigation.Action, error) {
	parts := strings.Split(strings.TrimSpace(token), ":")
	shape, ok := shapes[parts[0]]
	if !ok {
		return navigation.Action{}, fmt.Errorf("%w: %q", models.ErrUnknownAction, token)
	}
	want := 1
	for _, b := range []bool{shape.server, shape.page, shape.machine} {
		if b {
			want++
		}
	}
	if len(parts) != want {
		return navigation.Action{}, fmt.Errorf("%w: %q takes %d arguments", models.ErrUnknownAction, parts[0], want-1)
	}

	a := navigation.Action{Verb: shape.verb}
	args := parts[1:]
	if shape.server {
		a.Server, args = args[0], args[1:]
		if a.Server == "" {
			return navigation.Action{}, fmt.Errorf("%w: empty server in %q", models.ErrUnknownAction, token)
		}
	}
	if shape.page {
		page, err := strconv.Atoi(args[0])
		if err != nil {
			return navigation.Action{}, fmt.Errorf("%w: bad page in %q", models.ErrUnknownAction, token)
		}
		a.Page, args = page, args[1:]
	}
	if shape.machine {
		n, err := registry.ParseIndex(args[0])
		if err != nil {
			return navigation.Action{}, err
		}
		a.Machine = n
	}
	return a, nil
}

// Token encodes an Action; ParseToken(Token(a)) == a for every valid action.
func Token(a navigation.Action) string {
	name := verbTokens[a.Verb]
	shape := shapes[name]
	parts := []string{name}
	if shape.server {
		parts = append(parts, a.Server)
	}
	if shape.page {
		parts = append(parts, strconv.Itoa(a.Page))
	}
	if shape.machine {
		parts = append(parts, strconv.Itoa(a.Machine))
	}
	return strings.Join(parts, ":")
}
