package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrEmptyMAC   = errors.New("empty MAC address")
	ErrInvalidMAC = errors.New("invalid MAC address")
)

// AdapterID is a MAC address in canonical lowercase colon-separated form
type AdapterID string

// ParseAdapterID canonicalizes a MAC address. Dashes and dots are accepted
// as separators and a bare 12-digit hex string is split into octets; the
// result is always lowercase with colons.
func ParseAdapterID(raw string) (AdapterID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyMAC
	}

	if hw, err := net.ParseMAC(s); err == nil {
		return AdapterID(hw.String()), nil
	}

	s = strings.ToLower(strings.ReplaceAll(s, "-", ":"))
	if len(s) == 12 && isHex(s) {
		hw, err := hex.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
		}
		return AdapterID(net.HardwareAddr(hw).String()), nil
	}

	// Short forms (test fixtures, truncated reports) need at least two
	// octets of one or two hex digits each
	groups := strings.Split(s, ":")
	if len(groups) < 2 || len(groups) > maxShortOctets {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
	}
	for i, g := range groups {
		if len(g) == 0 || len(g) > 2 || !isHex(g) {
			return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
		}
		if len(g) == 1 {
			groups[i] = "0" + g
		}
	}

	return AdapterID(strings.Join(groups, ":")), nil
}

// maxShortOctets bounds the short form; longer addresses must parse as
// EUI-48, EUI-64 or InfiniBand
const maxShortOctets = 8

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// MustAdapterID is ParseAdapterID for constants and tests
func MustAdapterID(raw string) AdapterID {
	id, err := ParseAdapterID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical MAC
func (id AdapterID) String() string {
	return string(id)
}

// StationDetail is what one adapter reports about a station on the same
// powerline network
type StationDetail struct {
	TEI         int         `json:"tei" yaml:"tei"`
	SNID        int         `json:"snid" yaml:"snid"`
	CCo         bool        `json:"cco" yaml:"cco"`
	PCo         bool        `json:"pco" yaml:"pco"`
	BackupCCo   bool        `json:"bcco" yaml:"bcco"`
	SignalLevel SignalLevel `json:"signal_level" yaml:"signal_level"`
}

// AdapterRecord is the read-only view of one adapter handed to presentation
type AdapterRecord struct {
	ID        AdapterID `json:"mac"`
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	Interface string    `json:"interface"`
	HFID      string    `json:"hfid"`

	// Detail is nil until a peer has reported on this adapter
	Detail *StationDetail `json:"detail,omitempty"`
	// DetailSource is the adapter whose report supplied Detail
	DetailSource AdapterID `json:"detail_source,omitempty"`
}

// Unknown is shown for any field that has not been reported yet
const Unknown = "Unknown"

// AdapterName is the display name derived from an identity index
func AdapterName(index int) string {
	if index <= 0 {
		return "Adapter ?"
	}
	return fmt.Sprintf("Adapter %d", index)
}

// TEIString returns the TEI or Unknown
func (r AdapterRecord) TEIString() string {
	if r.Detail == nil {
		return Unknown
	}
	return fmt.Sprintf("%d", r.Detail.TEI)
}

// SNIDString returns the SNID or Unknown
func (r AdapterRecord) SNIDString() string {
	if r.Detail == nil {
		return Unknown
	}
	return fmt.Sprintf("%d", r.Detail.SNID)
}

// SignalString returns the formatted signal level or Unknown
func (r AdapterRecord) SignalString() string {
	if r.Detail == nil {
		return Unknown
	}
	return r.Detail.SignalLevel.String()
}

// RoleFlags returns the coordinator flags as Yes/No strings, all No when unknown
func (r AdapterRecord) RoleFlags() (cco, pco, bcco string) {
	if r.Detail == nil {
		return "No", "No", "No"
	}
	return yesNo(r.Detail.CCo), yesNo(r.Detail.PCo), yesNo(r.Detail.BackupCCo)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
