package db

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/zulandar/porterline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSetting returns the value for key, or fallback when the row is missing.
func GetSetting(db *gorm.DB, key, fallback string) (string, error) {
	var row models.Setting
	if err := db.Where("`key` = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return "", fmt.Errorf("db: get setting %q: %w", key, err)
	}
	return row.Value, nil
}

// SetSetting upserts a settings row.
func SetSetting(db *gorm.DB, key, value string) error {
	row := models.Setting{Key: key, Value: value}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("db: set setting %q: %w", key, result.Error)
	}
	return nil
}

// SettingBool reads a boolean setting; malformed values fall back.
func SettingBool(db *gorm.DB, key string, fallback bool) bool {
	v, err := GetSetting(db, key, strconv.FormatBool(fallback))
	if err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// SettingInt reads an integer setting; malformed values fall back.
func SettingInt(db *gorm.DB, key string, fallback int) int {
	v, err := GetSetting(db, key, strconv.Itoa(fallback))
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
