// Package cycletime tracks how long requests spend in each phase of their
// lifecycle: rolling per-floor baselines recomputed from recent completions,
// and a sweep that alerts on in-progress phases running past a threshold.
package cycletime

import (
	"time"

	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
)

// The five timed phases of a request's progress.
const (
	PhaseResponse   = "response"
	PhaseAcceptance = "acceptance"
	PhasePickup     = "pickup"
	PhaseEnRoute    = "en_route"
	PhaseTransport  = "transport"
)

// Phases in lifecycle order.
var Phases = []string{PhaseResponse, PhaseAcceptance, PhasePickup, PhaseEnRoute, PhaseTransport}

// statusPhase maps a live request status to the phase currently in progress.
// A pending request is waiting on dispatch, so its response phase is the one
// running.
var statusPhase = map[string]string{
	lifecycle.StatusPending:     PhaseResponse,
	lifecycle.StatusAssigned:    PhaseAcceptance,
	lifecycle.StatusEnRoute:     PhaseEnRoute,
	lifecycle.StatusAccepted:    PhasePickup,
	lifecycle.StatusWithPatient: PhaseTransport,
}

// phaseBounds returns the start and end timestamps of a completed request's
// phase. Either may be nil when the request skipped the boundary.
func phaseBounds(r *models.TransportRequest, phase string) (start, end *time.Time) {
	switch phase {
	case PhaseResponse:
		return &r.CreatedAt, r.AssignedAt
	case PhaseAcceptance:
		return r.AssignedAt, r.AcceptedAt
	case PhasePickup:
		return r.AcceptedAt, r.EnRouteAt
	case PhaseEnRoute:
		return r.EnRouteAt, r.WithPatientAt
	case PhaseTransport:
		return r.WithPatientAt, r.CompletedAt
	}
	return nil, nil
}

// phaseStart returns when a live request entered its current phase.
func phaseStart(r *models.TransportRequest, phase string) *time.Time {
	switch phase {
	case PhaseResponse:
		return &r.CreatedAt
	case PhaseAcceptance:
		return r.AssignedAt
	case PhasePickup:
		return r.AcceptedAt
	case PhaseEnRoute:
		return r.EnRouteAt
	case PhaseTransport:
		return r.WithPatientAt
	}
	return nil
}
