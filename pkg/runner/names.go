package runner

import (
	"regexp"
	"strings"
)

// disallowedNameChars matches every run of characters the Docker engine does
// not accept in image tags and container names.
var disallowedNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sanitizeName reduces a free-form string to the engine's accepted character
// set, collapsing disallowed runs into single dashes and capping the length.
func sanitizeName(name string, maxLength int) string {
	sanitized := disallowedNameChars.ReplaceAllString(name, "-")
	sanitized = strings.Trim(sanitized, "-")
	if len(sanitized) > maxLength {
		sanitized = sanitized[:maxLength]
	}
	return sanitized
}

// containerName derives an engine-safe container name from the run's
// human readable name. Names must match `[a-zA-Z0-9][a-zA-Z0-9_.-]+`, so any
// leading underscore, dash or period is stripped as well. The engine has no
// hard length cap but URL limits apply eventually, so 250 keeps us safe.
// The hex run id serves as fallback when nothing printable remains.
func containerName(run JobRun) string {
	name := strings.TrimLeft(sanitizeName(run.Name, 250), "_-.")
	if name == "" {
		return run.HexID()
	}
	return name
}
