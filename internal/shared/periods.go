package shared

import (
	"errors"
	"regexp"
	"time"
)

// Billed period labels use the YYYY-MM form, e.g. "2024-01".
var periodLabelPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ErrInvalidPeriodLabel indicates a malformed billed-period label.
var ErrInvalidPeriodLabel = errors.New("period label must be YYYY-MM")

// ValidatePeriodLabel checks the billed-period label format.
func ValidatePeriodLabel(label string) error {
	if !periodLabelPattern.MatchString(label) {
		return ErrInvalidPeriodLabel
	}
	return nil
}

// PeriodLabelFor returns the billed-period label covering t.
func PeriodLabelFor(t time.Time) string {
	return t.Format("2006-01")
}
