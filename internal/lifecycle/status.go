package lifecycle

import "github.com/zulandar/porterline/internal/presence"

// Transport request statuses.
const (
	StatusPending     = "pending"
	StatusAssigned    = "assigned"
	StatusAccepted    = "accepted"
	StatusEnRoute     = "en_route"
	StatusWithPatient = "with_patient"
	StatusComplete    = "complete"
	StatusCancelled   = "cancelled"
	StatusTransferred = "transferred_to_pct"
)

// Assignment methods.
const (
	MethodManual = "manual"
	MethodClaim  = "claim"
	MethodAuto   = "auto"
)

// ValidTransitions maps each status to its valid next statuses.
// assigned → pending is the acceptance-timeout revert; the edges back to
// assigned are forced reassignments, which only Assign records because they
// carry a new assignee; transferred_to_pct → complete is the delayed
// auto-close.
var ValidTransitions = map[string][]string{
	StatusPending:     {StatusAssigned, StatusCancelled, StatusTransferred},
	StatusAssigned:    {StatusAccepted, StatusAssigned, StatusPending, StatusCancelled, StatusTransferred},
	StatusAccepted:    {StatusEnRoute, StatusAssigned, StatusCancelled, StatusTransferred},
	StatusEnRoute:     {StatusWithPatient, StatusAssigned, StatusCancelled, StatusTransferred},
	StatusWithPatient: {StatusComplete, StatusAssigned, StatusCancelled, StatusTransferred},
	StatusComplete:    {},
	StatusCancelled:   {},
	StatusTransferred: {StatusComplete},
}

// TerminalStatuses are the states a request never leaves (transferred_to_pct
// only moves once more, to complete, via the auto-close task).
var TerminalStatuses = []string{StatusComplete, StatusCancelled, StatusTransferred}

// IsTerminal reports whether a request in this status is out of the active set.
func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// phaseColumn maps a destination status to the timestamp column it stamps.
var phaseColumn = map[string]string{
	StatusAssigned:    "assigned_at",
	StatusAccepted:    "accepted_at",
	StatusEnRoute:     "en_route_at",
	StatusWithPatient: "with_patient_at",
	StatusComplete:    "completed_at",
	StatusCancelled:   "cancelled_at",
	StatusTransferred: "pct_transferred_at",
}

// PhasePresence is the single source of truth for how a request status is
// mirrored onto its assignee's presence. Statuses that free the worker map
// to available.
var PhasePresence = map[string]string{
	StatusPending:     presence.StatusAvailable,
	StatusAssigned:    presence.StatusAssigned,
	StatusAccepted:    presence.StatusAccepted,
	StatusEnRoute:     presence.StatusEnRoute,
	StatusWithPatient: presence.StatusWithPatient,
	StatusComplete:    presence.StatusAvailable,
	StatusCancelled:   presence.StatusAvailable,
	StatusTransferred: presence.StatusAvailable,
}

func isValidTransition(from, to string) bool {
	valid, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, v := range valid {
		if v == to {
			return true
		}
	}
	return false
}
