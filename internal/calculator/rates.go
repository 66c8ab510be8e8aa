package calculator

import "YieldAccrual/internal/model"

// Seconds per display unit.
const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
	secondsPerWeek   = 604800
)

// UnitRates expands a per-second rate into every display unit by exact
// multiplication, so displayed rates never disagree with each other.
func UnitRates(perSecond, unitPrice float64) model.Rates {
	return model.Rates{
		PerSecond: priced(perSecond, unitPrice),
		PerMinute: priced(perSecond*secondsPerMinute, unitPrice),
		PerHour:   priced(perSecond*secondsPerHour, unitPrice),
		PerDay:    priced(perSecond*secondsPerDay, unitPrice),
		PerWeek:   priced(perSecond*secondsPerWeek, unitPrice),
		PerMonth:  priced(perSecond*SecondsInMonth, unitPrice),
	}
}

func priced(native, unitPrice float64) model.Amount {
	return model.Amount{Native: native, Priced: native * nonNegative(unitPrice)}
}
