package utils

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["_"] = err.Error()
		return errorResponse
	}

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

// StartOfDay truncates t to 00:00:00 of its calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// StartOfMonthsAgo returns the first day of the month that lies `months` calendar months before now.
func StartOfMonthsAgo(now time.Time, months int, loc *time.Location) time.Time {
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	// time.Date normalizes month underflow, so January minus one lands in December of the previous year.
	return time.Date(local.Year(), local.Month()-time.Month(months), 1, 0, 0, 0, 0, loc)
}

// YesNo renders a flag the way the reporting tables store it.
func YesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}
