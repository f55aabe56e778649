package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shelly-dtu/internal/inverter"
	"shelly-dtu/internal/limit"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&InverterReading{}, &ShellyReading{}, &LimitEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) SaveReading(serial uint64, r *inverter.Reading) error {
	var current float64
	for _, c := range r.PhaseCurrent {
		current += c
	}
	reading := &InverterReading{
		Timestamp:          r.Timestamp,
		Serial:             serial,
		SerialNumber:       r.SerialNumber,
		NominalPower:       r.NominalPower,
		DailyEnergy:        r.DailyEnergy,
		TotalEnergy:        r.TotalEnergy,
		Temperature:        r.Temperature,
		MPPT1Voltage:       r.MPPT[0].Voltage,
		MPPT1Current:       r.MPPT[0].Current,
		MPPT2Voltage:       r.MPPT[1].Voltage,
		MPPT2Current:       r.MPPT[1].Current,
		TotalDCPower:       r.TotalDCPower,
		GridVoltage:        r.PhaseVoltage[0],
		GridFrequency:      r.GridFrequency,
		GridCurrent:        current,
		TotalActivePower:   r.TotalActivePower,
		ReactivePower:      r.ReactivePower,
		PowerFactor:        r.PowerFactor,
		RunningState:       r.RunningState,
		RunningStateString: r.RunningStateString,
		FaultCode:          r.FaultCode,
		LimitEnabled:       r.LimitEnabled,
		LimitPercent:       r.LimitPercent,
	}
	return d.db.Create(reading).Error
}

func (d *Database) SaveShellyReading(r *ShellyReading) error {
	return d.db.Create(r).Error
}

// RecordLimit stores a sent limit.
func (d *Database) RecordLimit(ev limit.Event) error {
	return d.db.Create(&LimitEvent{
		Timestamp:      ev.Time,
		Mode:           ev.Mode.String(),
		Limit:          ev.Limit,
		Previous:       ev.Previous,
		GridPower:      ev.GridPower,
		GeneratedPower: ev.GeneratedPower,
	}).Error
}

func (d *Database) GetLatestReading() (*InverterReading, error) {
	var reading InverterReading
	if err := d.db.Order("timestamp desc").First(&reading).Error; err != nil {
		return nil, err
	}
	return &reading, nil
}

func (d *Database) GetReadingsByRange(from, to time.Time) ([]InverterReading, error) {
	var readings []InverterReading
	err := d.db.Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp desc").
		Find(&readings).Error
	return readings, err
}

func (d *Database) GetReadingsWithLimit(n int) ([]InverterReading, error) {
	var readings []InverterReading
	err := d.db.Order("timestamp desc").Limit(n).Find(&readings).Error
	return readings, err
}

// GetShellyHistory returns meter readings in the range, oldest first, at
// most n of them when n > 0.
func (d *Database) GetShellyHistory(from, to time.Time, n int) ([]ShellyReading, error) {
	var readings []ShellyReading
	q := d.db.Where("timestamp BETWEEN ? AND ?", from, to).Order("timestamp asc")
	if n > 0 {
		q = q.Limit(n)
	}
	err := q.Find(&readings).Error
	return readings, err
}

func (d *Database) GetLimitEvents(n int) ([]LimitEvent, error) {
	var events []LimitEvent
	err := d.db.Order("timestamp desc").Limit(n).Find(&events).Error
	return events, err
}

func (d *Database) GetDailyStats(date time.Time) (*DailyStats, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)
	inDay := func(model any) *gorm.DB {
		return d.db.Model(model).Where("timestamp >= ? AND timestamp < ?", startOfDay, endOfDay)
	}

	stats := &DailyStats{Date: startOfDay}

	var peak, latest InverterReading
	if err := inDay(&InverterReading{}).Order("total_active_power desc").First(&peak).Error; err == nil {
		stats.MaxPower = peak.TotalActivePower
	}
	if err := inDay(&InverterReading{}).Order("timestamp desc").First(&latest).Error; err == nil {
		stats.TotalEnergy = latest.DailyEnergy
	}

	var avgTemp sql.NullFloat64
	if err := inDay(&InverterReading{}).Select("AVG(temperature)").Row().Scan(&avgTemp); err != nil {
		return nil, fmt.Errorf("failed to average temperature: %w", err)
	}
	stats.AvgTemperature = avgTemp.Float64

	if err := inDay(&InverterReading{}).Count(&stats.ReadingsCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	if err := inDay(&LimitEvent{}).Count(&stats.LimitEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to count limit events: %w", err)
	}
	return stats, nil
}

// CleanOldReadings removes rows of every table older than the given age.
func (d *Database) CleanOldReadings(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	for _, model := range []any{&InverterReading{}, &ShellyReading{}, &LimitEvent{}} {
		if err := d.db.Unscoped().Where("timestamp < ?", cutoff).Delete(model).Error; err != nil {
			return fmt.Errorf("failed to clean old rows: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
