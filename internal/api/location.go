package api

import (
	"fmt"
	"strings"
)

// TaskIDFromLocation extracts the task ID from the Location header of a
// 202 Accepted response. The upstream API appends one spurious character to
// the ID (DCS-16929), so the last path segment loses its final character.
// Keep this until the upstream defect is confirmed fixed.
func TaskIDFromLocation(location string) (string, error) {
	segments := strings.Split(location, "/")
	last := segments[len(segments)-1]
	if len(last) < 2 {
		return "", fmt.Errorf("location %q does not end in a task id", location)
	}
	return last[:len(last)-1], nil
}

// ResourceID returns the last path segment of a resource URI, as used by
// embedded child task references.
func ResourceID(resourceURI string) string {
	trimmed := strings.TrimRight(resourceURI, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
