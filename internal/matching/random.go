package matching

import "math/rand/v2"

// Picker returns a uniformly distributed index in [0, n).
type Picker func(n int) int

// defaultPicker draws from the package-level math/rand/v2 source.
func defaultPicker(n int) int {
	return rand.IntN(n)
}

// pickRandom selects one candidate uniformly at random, not by join order.
func pickRandom(candidates []string, pick Picker) string {
	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[pick(len(candidates))]
}
