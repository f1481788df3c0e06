// Package instance validates the instance names that namespace published
// scan results in Redis.
package instance

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultName namespaces results when publish.instance is unset.
	DefaultName = "default"

	// MaxNameLength caps the name segment of spoolscan:{instance}:... keys.
	MaxNameLength = 63
)

// NamePattern matches one Redis key segment: lowercase letters and digits,
// with hyphens or underscores between them.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-_a-z0-9]*[a-z0-9])?$`)

// keyMeta are characters that would split the key namespace or act as
// SCAN glob syntax in spoolscan:{instance}:tag:* lookups.
const keyMeta = ":*?[]\\"

// ValidateName checks that name can be used as the instance segment of a
// Redis key and in a key pattern match.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("instance name cannot be empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	case strings.ContainsAny(name, keyMeta):
		return fmt.Errorf("invalid instance name %q: contains a Redis key separator or pattern character", name)
	case !NamePattern.MatchString(name):
		return fmt.Errorf("invalid instance name %q: use lowercase letters and digits, joined by '-' or '_'", name)
	}
	return nil
}
