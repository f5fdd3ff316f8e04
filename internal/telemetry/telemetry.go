package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EnergyType tags the generation technology behind a reading.
type EnergyType string

const (
	Solar         EnergyType = "solar"
	Wind          EnergyType = "wind"
	Geothermal    EnergyType = "geothermal"
	Hydroelectric EnergyType = "hydroelectric"
	Battery       EnergyType = "battery"
)

// FlowDirection distinguishes what the measured energy did.
type FlowDirection string

const (
	Generation  FlowDirection = "generation"
	Consumption FlowDirection = "consumption"
	Storage     FlowDirection = "storage"
)

// Sample is one immutable energy-telemetry reading from a device.
type Sample struct {
	DeviceID  string
	Timestamp time.Time
	Energy    EnergyType
	Direction FlowDirection
	KWh       decimal.Decimal
}

// Source supplies telemetry readings for a user over a time range.
// No ordering or freshness guarantee is assumed beyond accurate timestamps.
type Source interface {
	FetchSamples(ctx context.Context, userID string, from, to time.Time) ([]Sample, error)
}

// KnownEnergyTypes lists the recognised generation technologies in a fixed order.
func KnownEnergyTypes() []EnergyType {
	return []EnergyType{Solar, Wind, Geothermal, Hydroelectric, Battery}
}

// ValidEnergyType reports whether t is one of the recognised tags.
func ValidEnergyType(t EnergyType) bool {
	switch t {
	case Solar, Wind, Geothermal, Hydroelectric, Battery:
		return true
	}
	return false
}
