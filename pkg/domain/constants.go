package domain

import "time"

// Biological constants for cattle. They drive every derived date and are fixed.
const (
	// GestationDays is the expected length of pregnancy.
	GestationDays = 283
	// EstrusCycleDays is the interval between heats in a cycling female.
	EstrusCycleDays = 21
	// PostPartumIntervalDays is the recovery period after calving before re-breeding.
	PostPartumIntervalDays = 60
	// WeaningOffsetDays is the calf age at which weaning is planned.
	WeaningOffsetDays = 210
	// PregnancyCheckOffsetDays is the delay between service and the first check.
	PregnancyCheckOffsetDays = 30
	// DryOffLeadDays is how long before expected calving a cow is dried off.
	DryOffLeadDays = 60
	// RelatedInseminationLookbackDays bounds the search for the service a check confirms.
	RelatedInseminationLookbackDays = 60
	// EarlyGestationDays separates the 30-day and 60-day recheck cadence.
	EarlyGestationDays = 60
	// MinBreedingAgeMonths is the youngest age at which a female may be serviced.
	MinBreedingAgeMonths = 15
)

// Optimal breeding window relative to an observed heat.
const (
	BreedingWindowStart = 12 * time.Hour
	BreedingWindowEnd   = 18 * time.Hour
)

// PregnancyRecheckOffsets are the days after a confirmation at which a
// pregnancy is re-examined.
func PregnancyRecheckOffsets() []int {
	return []int{30, 60, 120, 180, 240}
}
