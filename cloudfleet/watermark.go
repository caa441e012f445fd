package cloudfleet

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"gorm.io/gorm"
)

// WatermarkResolver derives where the next pull window of a domain starts.
type WatermarkResolver struct {
	db             *gorm.DB
	clock          Clock
	loc            *time.Location
	fallbackMonths int
}

func NewWatermarkResolver(db *gorm.DB, clock Clock, loc *time.Location, fallbackMonths int) *WatermarkResolver {
	if loc == nil {
		loc = time.Local
	}
	if fallbackMonths <= 0 {
		fallbackMonths = 1
	}
	return &WatermarkResolver{db: db, clock: clock, loc: loc, fallbackMonths: fallbackMonths}
}

// ResolveStart returns the newest stored date of d truncated to the start of its day.
// With no stored rows it returns the first day of the month fallbackMonths ago.
// If the store cannot be queried, the fallback is returned together with an error wrapping
// ErrWatermarkQuery so callers can report it and still proceed.
func (w *WatermarkResolver) ResolveStart(ctx context.Context, d Domain) (time.Time, error) {
	fallback := utils.StartOfMonthsAgo(w.clock.Now(), w.fallbackMonths, w.loc)

	spec, err := specFor(d)
	if err != nil {
		return fallback, fmt.Errorf("%w: %v", ErrWatermarkQuery, err)
	}

	var latest []time.Time
	err = w.db.WithContext(ctx).
		Model(spec.WatermarkModel).
		Where(spec.WatermarkColumn+" IS NOT NULL").
		Order(spec.WatermarkColumn+" DESC").
		Limit(1).
		Pluck(spec.WatermarkColumn, &latest).Error
	if err != nil {
		return fallback, fmt.Errorf("%w: %s: %v", ErrWatermarkQuery, d, err)
	}
	if len(latest) == 0 || latest[0].IsZero() {
		return fallback, nil
	}
	return utils.StartOfDay(latest[0], w.loc), nil
}

// Window returns [start, now] for d. A non-nil error never invalidates the returned window.
func (w *WatermarkResolver) Window(ctx context.Context, d Domain) (time.Time, time.Time, error) {
	end := w.clock.Now().In(w.loc)
	start, err := w.ResolveStart(ctx, d)
	return start, end, err
}
