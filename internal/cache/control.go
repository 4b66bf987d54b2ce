package cache

import "strings"

// RequestDirectives represents the parsed Cache-Control directives of an
// inbound request that the bypass policy cares about.
type RequestDirectives struct {
	NoCache bool
	NoStore bool
}

// ParseRequestCacheControl parses an inbound Cache-Control header.
//
// Format: Cache-Control: directive1, directive2=value
//
// Only no-cache and no-store matter on the request side; unknown directives
// are silently ignored.
func ParseRequestCacheControl(header string) RequestDirectives {
	directives := RequestDirectives{}
	if header == "" {
		return directives
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		switch part {
		case "no-cache":
			directives.NoCache = true
		case "no-store":
			directives.NoStore = true
		}
	}
	return directives
}

// WantsBypass reports whether the caller asked to skip the shared cache.
// The policy only honors this for privileged principals.
func (d RequestDirectives) WantsBypass() bool {
	return d.NoCache || d.NoStore
}
