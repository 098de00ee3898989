package bus

import (
	"fmt"
	"strings"
)

// RunControlChannel is the global control channel for a run. Every instance
// that might host the run subscribes to it.
func RunControlChannel(runID string) string {
	return fmt.Sprintf("agent_run:%s:control", runID)
}

// RunInstanceControlChannel is the control channel scoped to one instance.
func RunInstanceControlChannel(runID, instanceID string) string {
	return fmt.Sprintf("agent_run:%s:control:%s", runID, instanceID)
}

// PresenceKey marks instanceID as hosting runID.
func PresenceKey(instanceID, runID string) string {
	return fmt.Sprintf("active_run:%s:%s", instanceID, runID)
}

// PresencePattern matches the presence keys of every instance hosting runID.
func PresencePattern(runID string) string {
	return fmt.Sprintf("active_run:*:%s", runID)
}

// InstanceFromPresenceKey extracts the instance id from a presence key.
// Returns "" when the key does not have the expected shape. Run and instance
// ids never contain colons.
func InstanceFromPresenceKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "active_run" {
		return ""
	}
	return parts[1]
}
