package domain

import "fmt"

// SignalLevel is the 0-15 attenuation band reported in discover lists
type SignalLevel int

const (
	SignalNotAvailable SignalLevel = 0
	SignalBest         SignalLevel = 1
	SignalWorst        SignalLevel = 15
)

// Valid reports whether the level is inside the 0-15 range
func (l SignalLevel) Valid() bool {
	return l >= SignalNotAvailable && l <= SignalWorst
}

// String formats the level as an attenuation band. Levels 2-14 are 5 dB wide.
func (l SignalLevel) String() string {
	switch {
	case !l.Valid():
		return Unknown
	case l == SignalNotAvailable:
		return "Not available"
	case l == SignalBest:
		return "-10 to 0 dB"
	case l == SignalWorst:
		return "≤ -75 dB"
	}

	upper := -5 * int(l)
	lower := -5 * (int(l) + 1)
	return fmt.Sprintf("%d to %d dB", lower, upper)
}
