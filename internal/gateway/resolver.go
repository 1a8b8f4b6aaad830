package gateway

import (
	"net"
	"net/url"
	"strings"
)

// loopbackHosts are spellings of the loopback address that some stacks
// resolve inconsistently (IPv4 vs IPv6, notably on Windows).
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// Candidates expands a configured base URL into an ordered, deduplicated
// list of candidate API roots. The configured URL always comes first; host
// variants cover the loopback spellings, path variants cover the `/v1` and
// `/api/v0` conventions plus the bare root. Deterministic and free of I/O.
func Candidates(baseURL string) []string {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return []string{strings.TrimRight(baseURL, "/")}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := u.Port()
	path := strings.TrimRight(u.Path, "/")

	hosts := []string{host}
	if loopbackHosts[host] {
		hosts = append(hosts, "localhost", "127.0.0.1", "::1")
	}

	// Root is the path with a known API suffix stripped.
	root := strings.TrimSuffix(path, "/v1")
	if root == path {
		root = strings.TrimSuffix(path, "/api/v0")
	}
	paths := []string{path, root + "/v1", root + "/api/v0", root}

	seen := make(map[string]bool)
	var out []string
	for _, h := range hosts {
		netloc := h
		if port != "" {
			netloc = net.JoinHostPort(h, port)
		} else if strings.Contains(h, ":") {
			netloc = "[" + h + "]"
		}
		for _, p := range paths {
			candidate := strings.TrimRight(scheme+"://"+netloc+p, "/")
			if !seen[candidate] {
				seen[candidate] = true
				out = append(out, candidate)
			}
		}
	}
	return out
}
