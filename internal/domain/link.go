package domain

import (
	"fmt"
	"time"
)

// LinkKey identifies a directed mesh link
type LinkKey struct {
	Source AdapterID `json:"source"`
	Target AdapterID `json:"target"`
}

// String returns "source_target", the key format used by exports
func (k LinkKey) String() string {
	return fmt.Sprintf("%s_%s", k.Source, k.Target)
}

// Less orders keys by source then target
func (k LinkKey) Less(o LinkKey) bool {
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	return k.Target < o.Target
}

// MeshLink is a rate observation reported by Source about Target.
// TxRate is the rate from Source to Target, RxRate from Target to Source,
// both in Mbit/s as reported by Source.
type MeshLink struct {
	Source   AdapterID `json:"source"`
	Target   AdapterID `json:"target"`
	TxRate   int       `json:"tx_rate"`
	RxRate   int       `json:"rx_rate"`
	LastSeen time.Time `json:"last_seen"`
}

// Key returns the link's directed key
func (l MeshLink) Key() LinkKey {
	return LinkKey{Source: l.Source, Target: l.Target}
}

// Stale reports whether the link has not been refreshed within maxAge of now
func (l MeshLink) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(l.LastSeen) > maxAge
}
