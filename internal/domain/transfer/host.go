package transfer

import (
	"slices"
	"strings"
)

// Host identifies a target machine by hostname or address.
type Host string

// String returns the host as a plain string.
func (h Host) String() string {
	return string(h)
}

// UniqueHosts trims names, drops empty ones and duplicates while keeping
// the first-seen order.
func UniqueHosts(names []string) []Host {
	seen := make(map[Host]struct{}, len(names))
	result := make([]Host, 0, len(names))

	for _, name := range names {
		host := Host(strings.TrimSpace(name))
		if host == "" {
			continue
		}

		if _, found := seen[host]; found {
			continue
		}

		seen[host] = struct{}{}
		result = append(result, host)
	}

	return result
}

// SortHosts returns a sorted copy of hosts.
func SortHosts(hosts []Host) []Host {
	sorted := slices.Clone(hosts)
	slices.Sort(sorted)

	return sorted
}
