package edge

import (
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// matchMount finds the target for a request path.
// Redirects only match their exact mount point; everything else matches the
// longest prefix.
func matchMount(mounts map[string]types.RouteTarget, requestPath string) *types.RouteTarget {
	if requestPath == "" {
		requestPath = "/"
	}

	if target, ok := mounts[requestPath]; ok {
		return &target
	}

	var bestMatch *types.RouteTarget
	var bestMatchLen int
	for mount, target := range mounts {
		if target.Type == types.RouteTypeRedirect {
			continue
		}
		if !matchPrefix(mount, requestPath) {
			continue
		}
		if len(mount) > bestMatchLen || bestMatch == nil {
			t := target
			bestMatch = &t
			bestMatchLen = len(mount)
		}
	}
	return bestMatch
}

// matchPrefix checks whether pattern is a path-segment prefix of requestPath
func matchPrefix(pattern, requestPath string) bool {
	// "/" matches everything
	if pattern == "/" {
		return true
	}
	if !strings.HasPrefix(requestPath, pattern) {
		return false
	}
	// Exact match
	if len(requestPath) == len(pattern) {
		return true
	}
	// Pattern ends with / or next char is /
	if pattern[len(pattern)-1] == '/' {
		return true
	}
	return requestPath[len(pattern)] == '/'
}

// stripPort removes a trailing :port from a host
func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}
