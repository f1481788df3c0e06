package publish

import (
	"fmt"
	"strings"
)

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced by instance name so several
// scanners can share one Redis server.
//
// Key pattern: spoolscan:{instance_name}:tag:{uid}
// Channel pattern: spoolscan:{instance_name}:scan_events

// TagKey returns the Redis key holding the latest result for a tag.
// UIDs are normalised to upper-case hex.
// Pattern: spoolscan:{instance_name}:tag:{uid}
func TagKey(instanceName, uid string) string {
	return fmt.Sprintf("spoolscan:%s:tag:%s", instanceName, strings.ToUpper(uid))
}

// ScanEventsChannel returns the Pub/Sub channel name for scan result events.
// Pattern: spoolscan:{instance_name}:scan_events
func ScanEventsChannel(instanceName string) string {
	return fmt.Sprintf("spoolscan:%s:scan_events", instanceName)
}
