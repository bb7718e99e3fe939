package cycletime

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecomputeAverages rebuilds the rolling baselines: for every phase, one row
// per floor plus a global row (floor ""), averaged over the most recent
// sampleSize completed requests that actually passed through the phase.
// Buckets with no samples are left at their previous value.
func RecomputeAverages(gdb *gorm.DB, floors []string, sampleSize int) error {
	buckets := append([]string{""}, floors...)
	for _, phase := range Phases {
		for _, floor := range buckets {
			if err := recomputeBucket(gdb, phase, floor, sampleSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func recomputeBucket(gdb *gorm.DB, phase, floor string, sampleSize int) error {
	q := gdb.Where("status = ?", lifecycle.StatusComplete).
		Order("completed_at DESC").
		Limit(sampleSize)
	if floor != "" {
		q = q.Where("origin_floor = ?", floor)
	}
	var completed []models.TransportRequest
	if err := q.Find(&completed).Error; err != nil {
		return fmt.Errorf("cycletime: load completions for %s/%s: %w", phase, floor, err)
	}

	var total float64
	var n int
	for i := range completed {
		start, end := phaseBounds(&completed[i], phase)
		if start == nil || end == nil {
			continue
		}
		d := end.Sub(*start)
		if d < 0 {
			continue
		}
		total += d.Seconds()
		n++
	}
	if n == 0 {
		return nil
	}

	row := models.CycleTimeAverage{
		Phase:       phase,
		Floor:       floor,
		AvgSeconds:  total / float64(n),
		SampleCount: n,
		ComputedAt:  time.Now(),
	}
	result := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phase"}, {Name: "floor"}},
		DoUpdates: clause.AssignmentColumns([]string{"avg_seconds", "sample_count", "computed_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("cycletime: store average %s/%s: %w", phase, floor, result.Error)
	}
	return nil
}

// Average returns the stored baseline for a phase, preferring the
// floor-specific bucket over the global one. ok is false when neither
// bucket has samples yet.
func Average(gdb *gorm.DB, phase, floor string) (seconds float64, ok bool, err error) {
	for _, f := range []string{floor, ""} {
		var row models.CycleTimeAverage
		result := gdb.Where("phase = ? AND floor = ?", phase, f).First(&row)
		if result.Error == nil && row.SampleCount > 0 {
			return row.AvgSeconds, true, nil
		}
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, false, fmt.Errorf("cycletime: load average %s/%s: %w", phase, f, result.Error)
		}
	}
	return 0, false, nil
}
