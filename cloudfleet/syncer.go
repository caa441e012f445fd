package cloudfleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const tracerName = "bitbucket.org/mmdatafocus/cloudfleet_sync/cloudfleet"

// Syncer runs the orders, issues and checklists domains one after another and logs each run.
type Syncer struct {
	db         *gorm.DB
	client     *Client
	reconciler *Reconciler
	watermark  *WatermarkResolver
	lease      Lease
	opts       config.SyncOptions
	clock      Clock
	sleeper    Sleeper
	logger     *logrus.Logger
	tracer     trace.Tracer
}

type SyncerOption func(*Syncer)

func WithClock(c Clock) SyncerOption {
	return func(s *Syncer) { s.clock = c }
}

// WithSleeper replaces every throttling delay of the run, including page delays of the default client.
func WithSleeper(sl Sleeper) SyncerOption {
	return func(s *Syncer) { s.sleeper = sl }
}

func WithLease(l Lease) SyncerOption {
	return func(s *Syncer) { s.lease = l }
}

func WithClient(c *Client) SyncerOption {
	return func(s *Syncer) { s.client = c }
}

func NewSyncer(db *gorm.DB, opts config.SyncOptions, options ...SyncerOption) *Syncer {
	if opts.LockKey == "" {
		opts.LockKey = config.DefaultSyncLockKey
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Hour
	}
	s := &Syncer{
		db:      db,
		opts:    opts,
		clock:   systemClock{},
		sleeper: timerSleeper{},
		logger:  config.GetLogger(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range options {
		o(s)
	}
	if s.client == nil {
		s.client = NewClient(opts, WithClientSleeper(s.sleeper))
	}
	if s.lease == nil {
		s.lease = NewLocalLease()
	}
	s.reconciler = NewReconciler(db, opts.CountUnchangedAsUpdated)
	s.watermark = NewWatermarkResolver(db, s.clock, opts.Location, opts.FallbackMonths)
	return s
}

func (s *Syncer) Client() *Client {
	return s.client
}

// Trigger identifies who started a run.
type Trigger struct {
	By            string
	CorrelationId string
}

type RunResult struct {
	RunId uint
	Stats RunStats
}

func (r *RunResult) Summary() Summary {
	return r.Stats.Summary(r.RunId)
}

// Run performs one full sync. Domains run in SyncOrder; the first domain that still fails
// after its retries aborts the run, the remaining domains are skipped and the run is marked failed.
// A run cannot be cancelled: only the values of ctx are used.
func (s *Syncer) Run(ctx context.Context, trigger Trigger) (*RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	release, err := s.lease.Acquire(ctx, s.opts.LockKey, s.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.WithError(err).Warn("failed to release sync lease")
		}
	}()

	ctx, span := s.tracer.Start(ctx, "cloudfleet.sync.run")
	defer span.End()

	if trigger.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, trigger.CorrelationId)
	}

	run, err := models.CreateSyncRun(ctx, s.db, s.clock.Now(), trigger.By, trigger.CorrelationId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create sync run")
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
	span.SetAttributes(attribute.Int64("sync.run_id", int64(run.ID)))

	runLog := s.logger.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"correlation_id": trigger.CorrelationId,
		"triggered_by":   trigger.By,
	})
	runLog.Info("cloudfleet sync started")

	var stats RunStats
	for _, d := range SyncOrder {
		domain := d
		fields := logrus.Fields{"run_id": run.ID, "domain": domain, "correlation_id": trigger.CorrelationId}
		domainStats, err := WithRetry(ctx, s.opts.MaxAttempts, fields, func(ctx context.Context) (Stats, error) {
			return s.SyncDomain(ctx, run.ID, domain)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "domain "+string(domain)+" failed")
			cause := fmt.Errorf("%s: %w", domain, err)
			if failErr := models.FailSyncRun(ctx, s.db, run.ID, cause, stats.Total().Errors); failErr != nil {
				runLog.WithError(failErr).Error("failed to mark sync run as failed")
			}
			runLog.WithError(err).WithField("domain", domain).Error("cloudfleet sync aborted")
			return nil, fmt.Errorf("sync %s: %w", domain, err)
		}
		stats = stats.With(domain, domainStats)
		runLog.WithFields(logrus.Fields{
			"domain":    domain,
			"new":       domainStats.New,
			"updated":   domainStats.Updated,
			"unchanged": domainStats.Unchanged,
			"errors":    domainStats.Errors,
		}).Info("cloudfleet domain synced")
	}

	if err := models.CompleteSyncRun(ctx, s.db, run.ID, s.clock.Now(), stats.Counts()); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("complete sync run: %w", err)
	}
	runLog.Info("cloudfleet sync completed")
	return &RunResult{RunId: run.ID, Stats: stats}, nil
}

// SyncDomain pulls d's window page by page and reconciles every record as its page arrives.
// Record failures are counted and persisted; transport and store-wide failures are returned.
func (s *Syncer) SyncDomain(ctx context.Context, runId uint, d Domain) (Stats, error) {
	ctx, span := s.tracer.Start(ctx, "cloudfleet.sync.domain", trace.WithAttributes(attribute.String("sync.domain", string(d))))
	defer span.End()
	ctx = utils.SetDomainInContext(ctx, string(d))

	start, end, werr := s.watermark.Window(ctx, d)
	if werr != nil {
		span.RecordError(werr)
		s.logger.WithFields(logFields(ctx)).WithField("window_start", start).
			WithError(werr).Warn("watermark unavailable, using fallback window")
	}

	pager, err := s.client.FetchDomain(d, start, end)
	if err != nil {
		return Stats{}, err
	}

	// failures from an earlier attempt of this domain are superseded
	if err := models.DeleteSyncErrors(ctx, s.db, runId, string(d)); err != nil {
		return Stats{}, fmt.Errorf("clear sync errors: %w", err)
	}

	var stats Stats
	for pager.Next(ctx) {
		pace := &detailPacer{sleeper: s.sleeper, delay: s.opts.DetailDelay}
		for _, raw := range pager.Records() {
			outcome, err := s.processRecord(ctx, d, raw, pace)
			if err != nil {
				var recErr *RecordError
				if !errors.As(err, &recErr) {
					span.RecordError(err)
					return stats, err
				}
				s.recordFailure(ctx, runId, d, recErr, raw)
			}
			stats = stats.Add(outcome)
		}
	}
	if err := pager.Err(); err != nil {
		span.RecordError(err)
		return stats, err
	}
	return stats, nil
}

func (s *Syncer) processRecord(ctx context.Context, d Domain, raw json.RawMessage, pace *detailPacer) (Outcome, error) {
	switch d {
	case DomainOrders:
		return s.processOrderSummary(ctx, raw, pace)
	case DomainIssues:
		return s.reconciler.ReconcileIssue(ctx, raw)
	case DomainChecklists:
		return s.reconciler.ReconcileChecklist(ctx, raw)
	}
	return OutcomeError, fmt.Errorf("unknown domain %q", d)
}

// detailPacer spaces the detail calls of one page: every call after the first waits delay.
type detailPacer struct {
	sleeper Sleeper
	delay   time.Duration
	called  bool
}

func (p *detailPacer) wait(ctx context.Context) error {
	if p.called {
		if err := p.sleeper.Sleep(ctx, p.delay); err != nil {
			return err
		}
	}
	p.called = true
	return nil
}

// processOrderSummary expands a listed order with its detail document before reconciling it.
func (s *Syncer) processOrderSummary(ctx context.Context, raw json.RawMessage, pace *detailPacer) (Outcome, error) {
	var summary workOrderSummary
	if err := s.reconciler.decodeRecord(raw, &summary, peekNumber(raw)); err != nil {
		return OutcomeError, err
	}
	if err := pace.wait(ctx); err != nil {
		return OutcomeError, err
	}
	detail, err := s.client.WorkOrderDetail(ctx, summary.Number)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound {
			return OutcomeError, recordError(CodeDetailFailed, summary.Number, err)
		}
		return OutcomeError, err
	}
	return s.reconciler.ReconcileOrder(ctx, detail)
}

func (s *Syncer) recordFailure(ctx context.Context, runId uint, d Domain, recErr *RecordError, raw json.RawMessage) {
	s.logger.WithFields(logFields(ctx)).WithFields(logrus.Fields{
		"natural_key": recErr.Key,
		"code":        recErr.Code,
	}).WithError(recErr.Err).Error("cloudfleet record failed")

	var payload []byte
	if json.Valid(raw) {
		payload = raw
	}
	err := models.CreateSyncError(ctx, s.db, &models.SyncError{
		SyncRunId:   runId,
		Domain:      string(d),
		NaturalKey:  recErr.Key,
		ErrorCode:   recErr.Code,
		Message:     recErr.Err.Error(),
		PayloadJSON: payload,
		Retryable:   recErr.Retryable,
	})
	if err != nil {
		config.LogError(s.logger, "cloudfleet", "recordFailure", "persist sync error", recErr.Key, err)
	}
}

// logFields collects the run identifiers carried by ctx.
func logFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		fields["correlation_id"] = id
	}
	if runId, ok := utils.GetSyncRunIdFromContext(ctx); ok {
		fields["run_id"] = runId
	}
	if d, ok := utils.GetDomainFromContext(ctx); ok {
		fields["domain"] = d
	}
	return fields
}
