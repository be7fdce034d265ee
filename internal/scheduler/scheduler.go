package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/config"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	obsmetrics "github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobSweepScheduledInvoices = "sweep_scheduled_invoices"

	sweepLockKey = "scheduler:sweep:scheduled_invoices"

	// Stored on the invoice when a due row cannot be dispatched.
	reasonMissingEmailData = "Missing scheduledEmailData or required email fields"
	reasonNoRecipients     = "No recipient emails"
	reasonDispatchFailed   = "Email dispatch failed"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config `optional:"true"`
	Repo    invoicedomain.Repository
	Builder *delivery.Builder
	Sender  delivery.Sender

	Runtime *config.RuntimeConfigHolder `optional:"true"`
	Locker  *ratelimit.Locker           `optional:"true"`
	Metrics *obsmetrics.Metrics         `optional:"true"`
	Audit   auditdomain.Service         `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	repo    invoicedomain.Repository
	builder *delivery.Builder
	sender  delivery.Sender
	runtime *config.RuntimeConfigHolder
	locker  *ratelimit.Locker
	metrics *obsmetrics.Metrics
	audit   auditdomain.Service
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Due    int
	Sent   int
	Failed int
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Builder == nil || p.Sender == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     cfg,
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		builder: p.Builder,
		sender:  p.Sender,
		runtime: p.Runtime,
		locker:  p.Locker,
		metrics: p.Metrics,
		audit:   p.Audit,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A sweep cut short by its deadline resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs a single sweep unless it is paused or another instance holds the sweep lock.
func (s *Scheduler) RunOnce(parent context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	runtimeCfg := s.runtimeConfig()
	if runtimeCfg.Sweep.Paused {
		schedMetrics.IncSweepSkipped(obsmetrics.SweepSkippedPaused)
		s.log.Info("scheduler.sweep.skipped", zap.String("reason", obsmetrics.SweepSkippedPaused))
		return nil
	}

	release, acquired := s.acquireSweepLock(parent)
	if !acquired {
		schedMetrics.IncSweepSkipped(obsmetrics.SweepSkippedLocked)
		s.log.Info("scheduler.sweep.skipped", zap.String("reason", obsmetrics.SweepSkippedLocked))
		return nil
	}
	defer release()

	batchSize := s.batchSize(runtimeCfg)
	return s.runJob(parent, JobSweepScheduledInvoices, batchSize, s.cfg.SweepTimeout, func(ctx context.Context) error {
		_, err := s.sweep(ctx, batchSize)
		return err
	})
}

// RunForever sweeps at every SweepInterval boundary until ctx is done.
// With the default interval this is the top of every hour.
func (s *Scheduler) RunForever(ctx context.Context) {
	schedMetrics := obsmetrics.Scheduler()
	for {
		now := s.clock.Now()
		next := nextRunAt(now, s.cfg.SweepInterval)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		schedMetrics.ObserveRunLoopLag(s.clock.Now().Sub(next))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}
}

func nextRunAt(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

func (s *Scheduler) sweep(ctx context.Context, batchSize int) (SweepResult, error) {
	ctx, run, owner := s.ensureJobRun(ctx, JobSweepScheduledInvoices, batchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var (
		result  SweepResult
		jobErr  error
		afterID snowflake.ID
	)
	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := ctx.Err(); err != nil {
			jobErr = errors.Join(jobErr, err)
			break
		}

		invoices, err := s.repo.FindDue(ctx, s.db, now, afterID, batchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.sweep.query.failed", JobSweepScheduledInvoices, err)
			jobErr = errors.Join(jobErr, err)
			break
		}
		result.Due += len(invoices)

		for _, invoice := range invoices {
			afterID = invoice.ID
			sent, err := s.deliver(ctx, run, invoice)
			if sent {
				result.Sent++
				run.AddProcessed(1)
				schedMetrics.IncDelivery(obsmetrics.DeliveryOutcomeSent)
			} else {
				result.Failed++
				schedMetrics.IncDelivery(obsmetrics.DeliveryOutcomeFailed)
			}
			if err != nil {
				jobErr = errors.Join(jobErr, err)
			}
		}

		if len(invoices) < batchSize {
			break
		}
	}

	schedMetrics.SetDueBacklog(result.Due)
	if result.Sent > 0 || result.Failed > 0 {
		s.logger(ctx).Info("scheduler.sweep.summary",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.String("summary", fmt.Sprintf("Send scheduled invoices: %d sent, %d failed", result.Sent, result.Failed)),
		)
	}
	return result, jobErr
}

// deliver sends one due invoice and records the outcome on the row. The returned
// error is only set when the outcome itself could not be persisted.
func (s *Scheduler) deliver(ctx context.Context, run *jobRun, invoice *invoicedomain.Invoice) (bool, error) {
	payload, ok := duePayload(invoice)
	if !ok {
		return false, s.markFailed(ctx, run, invoice, reasonMissingEmailData)
	}
	if len(mailer.NormalizeAddresses(payload.ToEmails)) == 0 {
		return false, s.markFailed(ctx, run, invoice, reasonNoRecipients)
	}

	msg, err := s.builder.Build(ctx, invoice, payload)
	if err != nil {
		return false, s.markFailed(ctx, run, invoice, failureReason(err))
	}

	messageID, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.metrics.RecordEmailDispatched(ctx, "scheduled", obsmetrics.DeliveryOutcomeFailed)
		return false, s.markFailed(ctx, run, invoice, failureReason(err))
	}
	s.metrics.RecordEmailDispatched(ctx, "scheduled", obsmetrics.DeliveryOutcomeSent)

	sentAt := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, s.db, invoice.ID, map[string]any{
		"scheduled_status":  invoicedomain.ScheduledStatusSent,
		"scheduled_sent_at": sentAt,
		"sent":              true,
		"scheduled_error":   nil,
	}); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice.update.failed", JobSweepScheduledInvoices, err,
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("message_id", messageID),
		)
		return true, err
	}

	s.metrics.RecordScheduleTransition(ctx, string(invoicedomain.ScheduledStatusSent))
	s.recordAudit(ctx, auditdomain.ActionInvoiceScheduleSent, invoice, map[string]any{
		"messageId": messageID,
		"toEmails":  msg.To,
	})
	s.logger(ctx).Info("scheduler.invoice.sent",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("message_id", messageID),
		zap.Int("recipients", len(msg.To)),
	)
	return true, nil
}

// failureReason never returns an empty string; a failed row always carries a reason.
func failureReason(err error) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s (%T)", reasonDispatchFailed, err)
}

func (s *Scheduler) markFailed(ctx context.Context, run *jobRun, invoice *invoicedomain.Invoice, reason string) error {
	if run != nil {
		run.IncError()
	}
	s.logger(ctx).Warn("scheduler.invoice.failed",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("reason", reason),
	)

	err := s.repo.UpdateFields(ctx, s.db, invoice.ID, map[string]any{
		"scheduled_status": invoicedomain.ScheduledStatusFailed,
		"scheduled_error":  reason,
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice.update.failed", JobSweepScheduledInvoices, err,
			zap.String("invoice_id", invoice.ID.String()),
		)
		return err
	}
	s.metrics.RecordScheduleTransition(ctx, string(invoicedomain.ScheduledStatusFailed))
	s.recordAudit(ctx, auditdomain.ActionInvoiceScheduleFailed, invoice, map[string]any{
		"reason": reason,
	})
	return nil
}

func (s *Scheduler) recordAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	targetID := invoice.ID.String()
	err := s.audit.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, action, auditdomain.TargetInvoice, &targetID, metadata)
	if err != nil {
		s.logger(ctx).Warn("scheduler.audit.failed", zap.String("invoice_id", targetID), zap.Error(err))
	}
}

// duePayload returns the stored payload when the row carries everything needed to dispatch.
// An empty recipient list still counts as present here.
func duePayload(invoice *invoicedomain.Invoice) (invoicedomain.EmailPayload, bool) {
	state, err := invoice.Schedule()
	if err != nil {
		return invoicedomain.EmailPayload{}, false
	}
	pending, ok := state.(invoicedomain.Pending)
	if !ok || !pending.Payload.Complete() {
		return invoicedomain.EmailPayload{}, false
	}
	return pending.Payload, true
}

func (s *Scheduler) runtimeConfig() config.RuntimeConfig {
	if s.runtime == nil {
		return config.DefaultRuntimeConfig()
	}
	return s.runtime.Get()
}

func (s *Scheduler) batchSize(runtimeCfg config.RuntimeConfig) int {
	if runtimeCfg.Sweep.BatchSize > 0 {
		return runtimeCfg.Sweep.BatchSize
	}
	return s.cfg.BatchSize
}
