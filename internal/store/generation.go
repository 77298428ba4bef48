package store

import "fmt"

// Generation names one of the two interchangeable copies of the knowledge
// base. Exactly one generation is active (serving live traffic) at any time;
// the other is passive and can be rebuilt freely.
type Generation string

const (
	Blue  Generation = "blue"
	Green Generation = "green"

	// DefaultGeneration is written once, first-writer-wins, when no active
	// pointer exists yet.
	DefaultGeneration = Blue
)

// Passive returns the other generation.
func (g Generation) Passive() Generation {
	if g == Blue {
		return Green
	}
	return Blue
}

// Valid reports whether g is one of the two known generation names.
func (g Generation) Valid() bool {
	return g == Blue || g == Green
}

// ParseGeneration converts a stored string into a Generation.
func ParseGeneration(s string) (Generation, error) {
	g := Generation(s)
	if !g.Valid() {
		return "", fmt.Errorf("unknown generation %q", s)
	}
	return g, nil
}
