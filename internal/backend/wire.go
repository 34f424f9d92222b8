package backend

import (
	"plcmesh/internal/domain"
)

// Wire shapes shared by the helper's JSON output and fixture YAML. MACs
// arrive in whatever case the adapter used and are canonicalized on decode;
// entries without a usable MAC are dropped.

type wireDiscovery struct {
	MAC       string `json:"mac" yaml:"mac"`
	Interface string `json:"interface" yaml:"interface"`
	HFID      string `json:"hfid" yaml:"hfid"`
}

type wireStation struct {
	MAC         string `json:"mac" yaml:"mac"`
	TEI         int    `json:"tei" yaml:"tei"`
	SNID        int    `json:"snid" yaml:"snid"`
	CCo         bool   `json:"cco" yaml:"cco"`
	PCo         bool   `json:"pco" yaml:"pco"`
	BackupCCo   bool   `json:"bcco" yaml:"bcco"`
	SignalLevel int    `json:"signal_level" yaml:"signal_level"`
}

type wireDetailReport struct {
	Stations []wireStation `json:"stations" yaml:"stations"`
}

type wirePeerRate struct {
	MAC      string `json:"mac" yaml:"mac"`
	ToRate   int    `json:"to_rate" yaml:"to_rate"`
	FromRate int    `json:"from_rate" yaml:"from_rate"`
}

func decodeDiscoveries(in []wireDiscovery) []Discovery {
	out := make([]Discovery, 0, len(in))
	for _, w := range in {
		mac, err := domain.ParseAdapterID(w.MAC)
		if err != nil {
			continue
		}
		out = append(out, Discovery{MAC: mac, Interface: w.Interface, HFID: w.HFID})
	}
	return out
}

func decodeDetailReport(in *wireDetailReport) *DetailReport {
	if in == nil {
		return nil
	}
	report := &DetailReport{Stations: make([]Station, 0, len(in.Stations))}
	for _, w := range in.Stations {
		mac, err := domain.ParseAdapterID(w.MAC)
		if err != nil {
			continue
		}
		report.Stations = append(report.Stations, Station{
			MAC: mac,
			StationDetail: domain.StationDetail{
				TEI:         w.TEI,
				SNID:        w.SNID,
				CCo:         w.CCo,
				PCo:         w.PCo,
				BackupCCo:   w.BackupCCo,
				SignalLevel: domain.SignalLevel(w.SignalLevel),
			},
		})
	}
	return report
}

func decodePeerRates(in []wirePeerRate) []PeerRate {
	out := make([]PeerRate, 0, len(in))
	for _, w := range in {
		mac, err := domain.ParseAdapterID(w.MAC)
		if err != nil {
			continue
		}
		out = append(out, PeerRate{MAC: mac, ToRate: w.ToRate, FromRate: w.FromRate})
	}
	return out
}
