package clnrest

import (
	"clnfund/internal/funding"
	"clnfund/internal/logging"
)

// nodeStatuses is the single point of truth for the node's status
// vocabulary. Every status string coming off the wire is routed through
// translateStatus; no component derives meaning from the raw string.
var nodeStatuses = map[string]funding.TriState{
	"paid":     funding.StateSettled,
	"complete": funding.StateSettled,
	"failed":   funding.StateFailed,
	"pending":  funding.StateUnknown,
}

// translateStatus maps a node-native status string to the ternary domain.
// An unrecognized status is a protocol anomaly: it is logged and reported
// as unknown, never as a failure and never as a crash.
func translateStatus(status string) funding.TriState {
	state, ok := nodeStatuses[status]
	if !ok {
		logging.Node.WithField("status", status).Warn("unrecognized node status")
		return funding.StateUnknown
	}
	return state
}
