package utils

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	in := time.Date(2024, time.March, 10, 3, 15, 0, 0, time.UTC)
	assert.True(t, StartOfDay(in, time.UTC).Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)))
	// 03:15 UTC is still the previous evening in Bogota
	assert.True(t, StartOfDay(in, bogota).Equal(time.Date(2024, time.March, 9, 0, 0, 0, 0, bogota)))
}

func TestStartOfMonthsAgo(t *testing.T) {
	tests := []struct {
		now    time.Time
		months int
		want   time.Time
	}{
		{time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC), 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.January, 31, 23, 0, 0, 0, time.UTC), 1, time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC), 6, time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := StartOfMonthsAgo(tt.now, tt.months, time.UTC)
		if !got.Equal(tt.want) {
			t.Fatalf("StartOfMonthsAgo(%s, %d) = %s, want %s", tt.now, tt.months, got, tt.want)
		}
	}
}

func TestYesNo(t *testing.T) {
	assert.Equal(t, "Sí", YesNo(true))
	assert.Equal(t, "No", YesNo(false))
}

func TestProcessValidationErrors(t *testing.T) {
	type query struct {
		Owner string `validate:"required"`
	}
	err := validator.New().Struct(query{})
	assert.Equal(t, map[string]string{"Owner": "required"}, ProcessValidationErrors(err))
}

func TestContextHelpers(t *testing.T) {
	ctx := SetCorrelationIdInContext(context.Background(), "corr-9")
	ctx = SetSyncRunIdInContext(ctx, 42)
	ctx = SetDomainInContext(ctx, "issues")

	id, ok := GetCorrelationIdFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "corr-9", id)

	runId, ok := GetSyncRunIdFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint(42), runId)

	domain, ok := GetDomainFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "issues", domain)

	_, ok = GetSubjectFromContext(ctx)
	assert.False(t, ok)
}
