package config

import (
	"context"
	"fmt"
	"slices"
	"sort"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// InterfaceInfo describes a network interface on this host
type InterfaceInfo struct {
	Name         string   `json:"name"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	MTU          int      `json:"mtu"`
	Up           bool     `json:"up"`
	Addrs        []string `json:"addrs,omitempty"`
}

// listInterfaces is replaced in tests
var listInterfaces = psnet.InterfacesWithContext

// AvailableInterfaces lists the interfaces the powerline adapters could be
// attached to: everything except loopback, sorted by name
func AvailableInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	stats, err := listInterfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	out := make([]InterfaceInfo, 0, len(stats))
	for _, st := range stats {
		if slices.Contains(st.Flags, "loopback") {
			continue
		}
		info := InterfaceInfo{
			Name:         st.Name,
			HardwareAddr: st.HardwareAddr,
			MTU:          st.MTU,
			Up:           slices.Contains(st.Flags, "up"),
		}
		for _, a := range st.Addrs {
			info.Addrs = append(info.Addrs, a.Addr)
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CheckInterface verifies that name exists and is up
func CheckInterface(ctx context.Context, name string) error {
	ifaces, err := AvailableInterfaces(ctx)
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}
		if !iface.Up {
			return fmt.Errorf("%w: %s is down", ErrInterfaceUnavailable, name)
		}
		return nil
	}
	return fmt.Errorf("%w: %s not found", ErrInterfaceUnavailable, name)
}
