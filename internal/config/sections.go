package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Section accessor methods return snapshot values. Mutating the returned
// value does not modify the document. Use Store.WriteMany (normally via a
// save queue) to update it.

// Well-known section names.
const (
	SectionServers    = "servers"
	SectionAppOptions = "appOptions"
)

// KeyTeams is the key under the servers section holding the server list.
const KeyTeams = "teams"

// KnownSections lists the sections the UI edits.
var KnownSections = []string{SectionServers, SectionAppOptions}

// ServerIndex is a server's legacy tab index: an integer, or false when unset.
type ServerIndex struct {
	Value int
	Set   bool
}

// IndexOf returns a set ServerIndex.
func IndexOf(i int) ServerIndex {
	return ServerIndex{Value: i, Set: true}
}

// MarshalJSON encodes an unset index as false.
func (i ServerIndex) MarshalJSON() ([]byte, error) {
	if !i.Set {
		return []byte("false"), nil
	}
	return json.Marshal(i.Value)
}

// UnmarshalJSON accepts false, null or a number.
func (i *ServerIndex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "false", "null":
		*i = ServerIndex{}
		return nil
	case "true":
		return fmt.Errorf("server index: %w: true", ErrInvalidValue)
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("server index: %w", err)
	}
	*i = ServerIndex{Value: int(n), Set: true}
	return nil
}

// Server is a configured chat server. Order defines tab order and is
// expected to be unique, but the store does not enforce it.
type Server struct {
	Name  string      `json:"name"`
	URL   string      `json:"url"`
	Index ServerIndex `json:"index"`
	Order int         `json:"order"`
}

// Notifications groups the notification options.
type Notifications struct {
	// FlashWindow is 0 (never) or 2 (always).
	FlashWindow int `json:"flashWindow"`
	// BounceIcon bounces the dock icon on macOS.
	BounceIcon bool `json:"bounceIcon"`
	// BounceIconType is "informational" or "critical".
	BounceIconType string `json:"bounceIconType"`
}

// AppOptions provides type-safe access to the appOptions section.
type AppOptions struct {
	ShowTrayIcon               bool          `json:"showTrayIcon"`
	TrayIconTheme              string        `json:"trayIconTheme"`
	MinimizeToTray             bool          `json:"minimizeToTray"`
	Autostart                  bool          `json:"autostart"`
	Notifications              Notifications `json:"notifications"`
	ShowUnreadBadge            bool          `json:"showUnreadBadge"`
	UseSpellChecker            bool          `json:"useSpellChecker"`
	EnableHardwareAcceleration bool          `json:"enableHardwareAcceleration"`
	EnableServerManagement     bool          `json:"enableServerManagement"`
	EnableTeamModification     bool          `json:"enableTeamModification"`
	HelpLink                   string        `json:"helpLink,omitempty"`
}

// DefaultAppOptions returns the options written on first start.
func DefaultAppOptions() AppOptions {
	return AppOptions{
		ShowTrayIcon:  false,
		TrayIconTheme: "light",
		Autostart:     true,
		Notifications: Notifications{
			FlashWindow:    0,
			BounceIcon:     false,
			BounceIconType: "informational",
		},
		ShowUnreadBadge:            true,
		UseSpellChecker:            true,
		EnableHardwareAcceleration: true,
		EnableServerManagement:     true,
		EnableTeamModification:     true,
	}
}

// defaultDocument returns the document written when no file exists.
func defaultDocument() map[string]any {
	opts, _ := canonicalize(DefaultAppOptions())
	return map[string]any{
		SectionServers: map[string]any{
			KeyTeams: []any{},
		},
		SectionAppOptions: opts,
	}
}

// Servers decodes servers.teams, sorted by Order.
func (s *Store) Servers() ([]Server, error) {
	v, ok := s.Get(SectionServers, KeyTeams)
	if !ok {
		return []Server{}, nil
	}
	return DecodeServers(v)
}

// DecodeServers decodes a canonical servers.teams value, sorted by Order.
func DecodeServers(v any) ([]Server, error) {
	var servers []Server
	if err := decodeInto(v, &servers); err != nil {
		return nil, fmt.Errorf("decoding %s.%s: %w", SectionServers, KeyTeams, err)
	}
	if servers == nil {
		servers = []Server{}
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Order < servers[j].Order
	})
	return servers, nil
}

// AppOptions decodes the appOptions section over the defaults, so missing
// keys read as their default values.
func (s *Store) AppOptions() (AppOptions, error) {
	opts := DefaultAppOptions()

	doc := s.Read()
	section, ok := doc[SectionAppOptions]
	if !ok {
		return opts, nil
	}
	if err := decodeInto(section, &opts); err != nil {
		return DefaultAppOptions(), fmt.Errorf("decoding %s: %w", SectionAppOptions, err)
	}
	return opts, nil
}

func decodeInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
