package registry

import (
	"fmt"
	"strconv"
	"strings"

	"fleetbot/internal/models"
)

// Resolve maps a 1-based machine index to its address: base + (offset + index).
// A last octet past 255 is rejected too, since it would not be a usable IPv4 address.
func Resolve(d models.ServerDescriptor, index int) (string, error) {
	if index < 1 || index > d.Machines {
		return "", fmt.Errorf("%w: %d not in 1..%d on %s", models.ErrInvalidIndex, index, d.Machines, d.Name)
	}
	n := d.AddressOffset + index
	if strings.HasSuffix(d.AddressBase, ".") && n > 255 {
		return "", fmt.Errorf("%w: %s%d is not a valid address", models.ErrInvalidIndex, d.AddressBase, n)
	}
	return d.AddressBase + strconv.Itoa(n), nil
}

// ParseIndex parses a token argument as a machine index. Non-integers are ErrInvalidIndex.
func ParseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidIndex, raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", models.ErrInvalidIndex, n)
	}
	return n, nil
}
