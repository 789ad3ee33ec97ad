package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/observability/metrics"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Dispatcher polls for due executions and delivers them. Every claimed
// execution ends in exactly one terminal state; failed sends are not retried.
type Dispatcher struct {
	store        ExecutionStore
	targets      TargetResolver
	sender       MessageSender
	auditor      DeliveryAuditor
	metrics      *metrics.AutomationMetrics
	logger       *logging.Logger
	now          func() time.Time
	workerID     string
	interval     time.Duration
	batchSize    int
	reclaimAfter time.Duration
	sendTimeout  time.Duration
}

// CycleResult summarises one dispatcher cycle.
type CycleResult struct {
	Claimed       int
	Sent          int
	Failed        int
	Lost          int
	Released      int
	Requeued      int64
	ReclaimFailed int64
}

func NewDispatcher(store ExecutionStore, targets TargetResolver, sender MessageSender, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:        store,
		targets:      targets,
		sender:       sender,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		workerID:     "dispatcher",
		interval:     30 * time.Second,
		batchSize:    50,
		reclaimAfter: 30 * time.Minute,
		sendTimeout:  15 * time.Second,
	}
}

func (d *Dispatcher) WithInterval(v time.Duration) *Dispatcher {
	if v > 0 {
		d.interval = v
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Dispatcher) WithReclaimAfter(v time.Duration) *Dispatcher {
	if v > 0 {
		d.reclaimAfter = v
	}
	return d
}

func (d *Dispatcher) WithSendTimeout(v time.Duration) *Dispatcher {
	if v > 0 {
		d.sendTimeout = v
	}
	return d
}

func (d *Dispatcher) WithWorkerID(id string) *Dispatcher {
	if id != "" {
		d.workerID = id
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.AutomationMetrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithAuditor(a DeliveryAuditor) *Dispatcher {
	d.auditor = a
	return d
}

// Run polls until ctx is cancelled. A cycle that has already claimed work
// finishes it before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.batchSize > 0 && time.Duration(d.batchSize)*d.sendTimeout >= d.reclaimAfter {
		d.logger.Warn("automation: reclaim timeout shorter than a worst-case batch",
			"reclaim_after", d.reclaimAfter.String(), "send_timeout", d.sendTimeout.String(), "batch_size", d.batchSize)
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("automation: dispatcher stopped", "worker_id", d.workerID)
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	res, err := d.RunOnce(ctx)
	d.metrics.ObserveCycle(time.Since(started).Seconds())
	if err != nil {
		d.logger.Error("automation: dispatch cycle failed", "worker_id", d.workerID, "error", err)
		return
	}
	if res.Claimed > 0 || res.Requeued > 0 || res.ReclaimFailed > 0 {
		d.logger.Info("automation: dispatch cycle complete",
			"worker_id", d.workerID, "claimed", res.Claimed, "sent", res.Sent,
			"failed", res.Failed, "lost", res.Lost, "released", res.Released, "requeued", res.Requeued,
		)
	}
}

// RunOnce performs one reclaim, claim and deliver pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	if d.store == nil || d.sender == nil || d.targets == nil {
		return res, errors.New("automation: dispatcher not configured")
	}

	ctx, span := automationTracer.Start(ctx, "automation.dispatch_cycle")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.worker_id", d.workerID))

	now := d.now()
	reclaimed, err := d.store.ReleaseStale(ctx, now.Add(-d.reclaimAfter), now)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("automation: reclaim: %w", err)
	}
	res.Requeued, res.ReclaimFailed = reclaimed.Requeued, reclaimed.Failed
	d.metrics.ObserveReclaimed(reclaimed.Requeued, reclaimed.Failed)
	if reclaimed.Requeued > 0 || reclaimed.Failed > 0 {
		d.logger.Warn("automation: released stale claims", "requeued", reclaimed.Requeued, "failed", reclaimed.Failed)
	}

	claim := Claim{WorkerID: d.workerID, Token: uuid.New(), At: now}
	batch, err := d.store.ClaimDue(ctx, now, d.batchSize, claim)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("automation: claim: %w", err)
	}
	res.Claimed = len(batch)
	span.SetAttributes(attribute.Int("clinic.claimed", len(batch)))

	// Claimed work is drained even when ctx is cancelled.
	work := context.WithoutCancel(ctx)
	for _, exec := range batch {
		switch d.deliver(work, exec) {
		case StatusSent:
			res.Sent++
		case StatusFailed:
			res.Failed++
		case StatusPending:
			res.Released++
		default:
			res.Lost++
		}
	}
	return res, nil
}

// deliver returns the terminal status written, StatusPending when the claim
// was released for a later cycle, or "" if the claim was lost.
func (d *Dispatcher) deliver(ctx context.Context, exec Execution) ExecutionStatus {
	log := d.logger.WithOrg(exec.OrgID).With("execution_id", exec.ID.String(), "rule_id", exec.RuleID.String())

	profile, err := d.targets.ResolveTarget(ctx, exec.OrgID, exec.TargetKind, exec.TargetID)
	if err == nil && (profile == nil || profile.Contact.Address == "") {
		err = ErrNoContact
	}
	switch {
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrNoContact):
		log.Warn("automation: delivery address not found", "target_id", exec.TargetID, "error", err)
		return d.finish(ctx, exec, Contact{}, ReasonAddressNotFound, log)
	case err != nil:
		// Lookup outages are not delivery attempts.
		log.Warn("automation: target lookup failed; releasing claim", "target_id", exec.TargetID, "error", err)
		return d.release(ctx, exec, log)
	}
	contact := profile.Contact
	if contact.Channel == "" {
		contact.Channel = ChannelSMS
	}

	subject, err := d.targets.OrganizationName(ctx, exec.OrgID)
	if err != nil {
		log.Debug("automation: organization name unavailable", "error", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = d.sender.Send(sendCtx, OutboundMessage{
		OrgID:       exec.OrgID,
		ExecutionID: exec.ID,
		Channel:     contact.Channel,
		To:          contact.Address,
		Subject:     subject,
		Body:        exec.Message,
	})
	cancel()
	if err != nil {
		derr := &DeliveryError{Channel: contact.Channel, Err: err}
		log.Warn("automation: delivery failed", "channel", string(contact.Channel), "error", derr)
		return d.finish(ctx, exec, contact, derr.Error(), log)
	}
	return d.finish(ctx, exec, contact, "", log)
}

func (d *Dispatcher) release(ctx context.Context, exec Execution, log *logging.Logger) ExecutionStatus {
	err := d.store.ReleaseClaim(ctx, exec.ID, exec.ClaimToken, d.now())
	if errors.Is(err, ErrClaimLost) {
		log.Warn("automation: claim lost before release")
		return ""
	}
	if err != nil {
		log.Error("automation: release claim failed", "error", err)
		return ""
	}
	return StatusPending
}

// finish writes the terminal transition. An empty reason means sent.
func (d *Dispatcher) finish(ctx context.Context, exec Execution, contact Contact, reason string, log *logging.Logger) ExecutionStatus {
	at := d.now()
	status := StatusSent
	var err error
	if reason == "" {
		err = d.store.MarkSent(ctx, exec.ID, exec.ClaimToken, at)
	} else {
		status = StatusFailed
		err = d.store.MarkFailed(ctx, exec.ID, exec.ClaimToken, reason, at)
	}
	if errors.Is(err, ErrClaimLost) {
		log.Warn("automation: claim lost before terminal write", "status", string(status))
		return ""
	}
	if err != nil {
		// The claim stays in processing and is released after the reclaim timeout.
		log.Error("automation: terminal write failed", "status", string(status), "error", err)
		return ""
	}

	d.metrics.ObserveDispatch(string(status), string(contact.Channel))
	if status == StatusSent {
		log.Info("automation: execution sent", "channel", string(contact.Channel))
	}
	if d.auditor != nil {
		attempt := DeliveryAttempt{
			ExecutionID: exec.ID,
			OrgID:       exec.OrgID,
			RuleID:      exec.RuleID,
			TargetID:    exec.TargetID,
			Channel:     contact.Channel,
			Address:     contact.Address,
			Status:      status,
			Reason:      reason,
			AttemptedAt: at,
		}
		if err := d.auditor.RecordAttempt(ctx, attempt); err != nil {
			log.Warn("automation: delivery audit failed", "error", err)
		}
	}
	return status
}
