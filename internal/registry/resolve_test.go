package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbot/internal/models"
)

func desc(machines int) models.ServerDescriptor {
	return models.ServerDescriptor{ID: "1", Name: "Hall", Machines: machines, AddressBase: "192.168.1.", AddressOffset: 100}
}

func TestResolveDeterministicAndInjective(t *testing.T) {
	d := desc(40)
	seen := map[string]int{}
	for i := 1; i <= d.Machines; i++ {
		a, err := Resolve(d, i)
		require.NoError(t, err)
		b, err := Resolve(d, i)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		prev, dup := seen[a]
		assert.False(t, dup, "index %d collides with %d", i, prev)
		seen[a] = i
	}
	first, _ := Resolve(d, 1)
	last, _ := Resolve(d, 40)
	assert.Equal(t, "192.168.1.101", first)
	assert.Equal(t, "192.168.1.140", last)
}

func TestResolveRejectsOutOfRange(t *testing.T) {
	d := desc(10)
	for _, idx := range []int{-1, 0, 11, 1000} {
		addr, err := Resolve(d, idx)
		assert.ErrorIs(t, err, models.ErrInvalidIndex, "index %d", idx)
		assert.Empty(t, addr)
	}
}

func TestResolveRejectsOctetOverflow(t *testing.T) {
	d := desc(10)
	d.AddressOffset = 250
	_, err := Resolve(d, 5)
	require.NoError(t, err)
	_, err = Resolve(d, 6)
	assert.ErrorIs(t, err, models.ErrInvalidIndex)
}

func TestParseIndex(t *testing.T) {
	n, err := ParseIndex("07")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	for _, raw := range []string{"", "x", "1.5", "0", "-3"} {
		_, err := ParseIndex(raw)
		assert.ErrorIs(t, err, models.ErrInvalidIndex, raw)
	}
}
