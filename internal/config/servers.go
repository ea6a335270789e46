package config

import (
	"net/url"
	"sort"
	"strings"
)

// maxMenuServers is how many servers the native menu lists.
const maxMenuServers = 9

// AddServer returns a copy of servers with s appended. The new server is
// placed last in tab order.
func AddServer(servers []Server, s Server) []Server {
	out := cloneServers(servers)
	s.Order = len(out)
	return append(out, s)
}

// UpdateServer returns a copy of servers with the name and URL of the
// server named name replaced by those of s. The server keeps its order and
// index.
func UpdateServer(servers []Server, name string, s Server) ([]Server, error) {
	out := cloneServers(servers)
	for i := range out {
		if out[i].Name == name {
			s.Order = out[i].Order
			s.Index = out[i].Index
			out[i] = s
			return out, nil
		}
	}
	return nil, ErrServerNotFound
}

// RemoveServer returns a copy of servers without the server named name.
// Remaining servers are renumbered so orders stay contiguous.
func RemoveServer(servers []Server, name string) ([]Server, error) {
	out := make([]Server, 0, len(servers))
	found := false
	for _, s := range servers {
		if s.Name == name && !found {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return nil, ErrServerNotFound
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i
	}
	return out, nil
}

// MenuServers returns the servers shown in the native menu: sorted by
// order, at most nine.
func MenuServers(servers []Server) []Server {
	out := cloneServers(servers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	if len(out) > maxMenuServers {
		out = out[:maxMenuServers]
	}
	return out
}

// ValidateServer applies the checks the add-server form makes before a
// server is submitted. The store itself never calls it.
func ValidateServer(s Server) error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required", Value: s.Name}
	}
	if strings.TrimSpace(s.URL) == "" {
		return &ValidationError{Field: "url", Message: "URL is required", Value: s.URL}
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return &ValidationError{Field: "url", Message: "URL is not valid", Value: s.URL}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "URL must start with http:// or https://", Value: s.URL}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Message: "URL must include a host", Value: s.URL}
	}
	return nil
}

func cloneServers(servers []Server) []Server {
	out := make([]Server, len(servers))
	copy(out, servers)
	return out
}
