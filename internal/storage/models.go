package storage

import (
	"time"

	"gorm.io/gorm"
)

// InverterReading is one decoded inverter poll.
type InverterReading struct {
	gorm.Model
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Serial    uint64    `gorm:"index" json:"serial"`

	SerialNumber string  `json:"serial_number"`
	NominalPower float64 `json:"nominal_power_kw"`

	DailyEnergy float64 `json:"daily_energy_kwh"`
	TotalEnergy float64 `json:"total_energy_kwh"`
	Temperature float64 `json:"temperature_c"`

	MPPT1Voltage float64 `json:"mppt1_voltage_v"`
	MPPT1Current float64 `json:"mppt1_current_a"`
	MPPT2Voltage float64 `json:"mppt2_voltage_v"`
	MPPT2Current float64 `json:"mppt2_current_a"`
	TotalDCPower uint32  `json:"total_dc_power_w"`

	GridVoltage   float64 `json:"grid_voltage_v"`
	GridFrequency float64 `json:"grid_frequency_hz"`
	GridCurrent   float64 `json:"grid_current_a"`

	TotalActivePower uint32  `json:"total_active_power_w"`
	ReactivePower    int32   `json:"reactive_power_var"`
	PowerFactor      float64 `json:"power_factor"`

	RunningState       uint16  `json:"running_state"`
	RunningStateString string  `json:"running_state_string"`
	FaultCode          uint16  `json:"fault_code"`
	LimitEnabled       bool    `json:"limit_enabled"`
	LimitPercent       float64 `json:"limit_percent"`
}

// ShellyReading stores the meter, plug and limit values of one poll.
type ShellyReading struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Pro3EM     float64   `json:"pro3em_w"`
	Plugs      float64   `json:"plugs_w"`
	Limit      float64   `json:"limit_w"`
	Calculated float64   `json:"calculated_limit_w"`
}

// LimitEvent is a limit command accepted by the inverter.
type LimitEvent struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Mode           string    `json:"mode"`
	Limit          float64   `json:"limit_w"`
	Previous       float64   `json:"previous_w"`
	GridPower      float64   `json:"grid_power_w"`
	GeneratedPower float64   `json:"generated_power_w"`
}

type DailyStats struct {
	Date           time.Time `json:"date"`
	MaxPower       uint32    `json:"max_power_w"`
	TotalEnergy    float64   `json:"total_energy_kwh"`
	AvgTemperature float64   `json:"avg_temperature_c"`
	ReadingsCount  int64     `json:"readings_count"`
	LimitEvents    int64     `json:"limit_events"`
}
