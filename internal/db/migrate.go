package db

import (
	"fmt"

	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.TransportRequest{},
		&models.RequestTransition{},
		&models.Worker{},
		&models.WorkerPresence{},
		&models.Heartbeat{},
		&models.DispatcherSession{},
		&models.CycleTimeAverage{},
		&models.Setting{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// defaultSettings are the runtime-tunable values seeded on first migrate.
// Threshold values are minutes; 0 disables that phase's manual threshold.
var defaultSettings = map[string]string{
	"alerts_enabled":               "true",
	"alert_timeout_enabled":        "true",
	"alert_cycle_enabled":          "true",
	"alert_break_enabled":          "true",
	"alert_offline_enabled":        "true",
	"cycle_alert_mode":             "manual",
	"threshold_response_minutes":   "10",
	"threshold_acceptance_minutes": "5",
	"threshold_pickup_minutes":     "15",
	"threshold_en_route_minutes":   "15",
	"threshold_transport_minutes":  "20",
}

// SeedSettings inserts default settings rows, leaving existing values alone.
func SeedSettings(db *gorm.DB) error {
	for key, value := range defaultSettings {
		row := models.Setting{Key: key, Value: value}
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("db: seed setting %q: %w", key, result.Error)
		}
	}
	return nil
}
