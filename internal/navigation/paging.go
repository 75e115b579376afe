package navigation

import (
	"fmt"

	"fleetbot/internal/models"
)

// Pages is ceil(count/size); an empty list still has one (empty) page.
func Pages(count, size int) int {
	if size <= 0 || count <= 0 {
		return 1
	}
	return (count + size - 1) / size
}

// Bounds returns the half-open item range [start, end) of page.
// Pages outside [0, Pages-1] are rejected rather than clamped.
func Bounds(count, size, page int) (start, end int, err error) {
	total := Pages(count, size)
	if page < 0 || page >= total {
		return 0, 0, fmt.Errorf("%w: %d not in 0..%d", models.ErrInvalidPage, page, total-1)
	}
	start = page * size
	end = min(start+size, count)
	return start, end, nil
}

// MachinePage lists the 1-based machine indices shown on page.
func MachinePage(machines, size, page int) ([]int, error) {
	start, end, err := Bounds(machines, size, page)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, end-start)
	for i := start + 1; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}

// PageOf returns the page containing the 1-based machine index.
func PageOf(index, size int) int {
	if index < 1 || size <= 0 {
		return 0
	}
	return (index - 1) / size
}
