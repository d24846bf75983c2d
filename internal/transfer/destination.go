// SPDX-License-Identifier: MIT

// Package transfer ships finished artifacts to a remote host over SFTP with
// key-only authentication. Upload is staged through a temporary remote name
// and renamed only after the size verifies, so a partial upload is never
// mistaken for a delivered artifact.
package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

const defaultPort = 22

// Destination is a parsed remote target of the form user@host[:port]:/path.
type Destination struct {
	User string
	Host string
	Port int
	Path string
}

// Addr returns the host:port dial address.
func (d Destination) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

func (d Destination) String() string {
	return fmt.Sprintf("%s@%s:%d:%s", d.User, d.Host, d.Port, d.Path)
}

// ParseDestination parses user@host[:port]:/path. The segment after the first
// colon counts as a port only when it is fully numeric; otherwise it is
// treated as the start of the remote path.
func ParseDestination(s string) (Destination, error) {
	at := strings.Index(s, "@")
	if at <= 0 {
		return Destination{}, fmt.Errorf("destination %q: missing user", s)
	}
	user, rest := s[:at], s[at+1:]

	colon := strings.Index(rest, ":")
	if colon <= 0 {
		return Destination{}, fmt.Errorf("destination %q: missing remote path", s)
	}
	host := rest[:colon]
	rest = rest[colon+1:]

	port := defaultPort
	if next := strings.Index(rest, ":"); next > 0 {
		if p, err := strconv.Atoi(rest[:next]); err == nil {
			if p < 1 || p > 65535 {
				return Destination{}, fmt.Errorf("destination %q: port %d out of range", s, p)
			}
			port = p
			rest = rest[next+1:]
		}
	}

	if rest == "" {
		return Destination{}, fmt.Errorf("destination %q: empty remote path", s)
	}
	if !strings.HasPrefix(rest, "/") {
		return Destination{}, fmt.Errorf("destination %q: remote path must be absolute", s)
	}
	return Destination{User: user, Host: host, Port: port, Path: rest}, nil
}
