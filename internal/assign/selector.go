// Package assign picks workers for transport requests: a pure ranking
// function over a candidate snapshot, plus the auto-assign scheduler that
// applies it immediately and on the acceptance-timeout sweep.
package assign

import (
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/porterline/internal/models"
	"github.com/zulandar/porterline/internal/presence"
	"gorm.io/gorm"
)

// Candidate is a snapshot of one available worker's standing.
type Candidate struct {
	WorkerID       string
	PrimaryFloor   string
	CompletedToday int
	LastCompleted  *time.Time // nil = never completed a request
}

// Selection is the chosen worker plus a human-readable justification.
type Selection struct {
	WorkerID string
	Reason   string
}

// Select ranks candidates for a request originating on originFloor and
// returns the winner, or false when the snapshot is empty. Ranking is
// strict lexicographic: floor match first, then fewest completions since
// midnight, then longest idle since the last completion (never-completed
// ranks highest), with worker ID as the final deterministic tie-break.
// Pure function over the snapshot — the caller owns acting on the result
// before it goes stale.
func Select(originFloor string, candidates []Candidate) (Selection, bool) {
	if len(candidates) == 0 {
		return Selection{}, false
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		am, bm := a.PrimaryFloor == originFloor, b.PrimaryFloor == originFloor
		if am != bm {
			return am
		}
		if a.CompletedToday != b.CompletedToday {
			return a.CompletedToday < b.CompletedToday
		}
		an, bn := a.LastCompleted == nil, b.LastCompleted == nil
		if an != bn {
			return an
		}
		if !an && !a.LastCompleted.Equal(*b.LastCompleted) {
			return a.LastCompleted.Before(*b.LastCompleted)
		}
		return a.WorkerID < b.WorkerID
	})

	best := ranked[0]
	return Selection{WorkerID: best.WorkerID, Reason: justify(originFloor, best)}, true
}

func justify(originFloor string, c Candidate) string {
	floor := "off-floor"
	if c.PrimaryFloor == originFloor {
		floor = fmt.Sprintf("primary floor %s matches origin", c.PrimaryFloor)
	}
	idle := "no completions yet"
	if c.LastCompleted != nil {
		idle = fmt.Sprintf("idle since %s", c.LastCompleted.Format("15:04"))
	}
	return fmt.Sprintf("%s; %d completed today; %s", floor, c.CompletedToday, idle)
}

// completionAgg carries the per-worker completion aggregates for ranking.
type completionAgg struct {
	AssignedTo string
	Today      int
	Last       *time.Time
}

// LoadCandidates builds the ranking snapshot: active workers whose presence
// is available, minus any excluded IDs, with their completion counts since
// local midnight and most recent completion time.
func LoadCandidates(db *gorm.DB, exclude ...string) ([]Candidate, error) {
	q := db.Table("worker_presences").
		Select("worker_presences.worker_id AS worker_id, workers.primary_floor AS primary_floor").
		Joins("JOIN workers ON workers.id = worker_presences.worker_id").
		Where("worker_presences.status = ? AND workers.active = ?", presence.StatusAvailable, true)
	if len(exclude) > 0 {
		q = q.Where("worker_presences.worker_id NOT IN ?", exclude)
	}

	var rows []struct {
		WorkerID     string
		PrimaryFloor string
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("assign: load available workers: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	midnight := startOfDay(time.Now())
	var aggs []completionAgg
	err := db.Model(&models.TransportRequest{}).
		Select("assigned_to, SUM(CASE WHEN completed_at >= ? THEN 1 ELSE 0 END) AS today, MAX(completed_at) AS last", midnight).
		Where("completed_at IS NOT NULL AND assigned_to != ?", "").
		Group("assigned_to").
		Scan(&aggs).Error
	if err != nil {
		return nil, fmt.Errorf("assign: load completion counts: %w", err)
	}

	byWorker := make(map[string]completionAgg, len(aggs))
	for _, a := range aggs {
		byWorker[a.AssignedTo] = a
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		c := Candidate{WorkerID: r.WorkerID, PrimaryFloor: r.PrimaryFloor}
		if agg, ok := byWorker[r.WorkerID]; ok {
			c.CompletedToday = agg.Today
			c.LastCompleted = agg.Last
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
