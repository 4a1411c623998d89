package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/metrics"
	"github.com/evetabi/betledger/internal/oracle"
	"github.com/evetabi/betledger/internal/repository"
)

var errOracleDisabled = errors.New("oracle is not configured")

// OracleOptions bounds the polling loop of AutoResolve.
type OracleOptions struct {
	PollInterval        time.Duration
	MaxAttempts         int
	Timeout             time.Duration
	ConfidenceThreshold float64
}

// transcript is the resolution data of an oracle settlement.
type transcript struct {
	JobID       string           `json:"job_id"`
	Prompt      string           `json:"prompt"`
	Result      string           `json:"result"`
	Decision    *oracle.Decision `json:"decision,omitempty"`
	OptionID    string           `json:"option_id,omitempty"`
	Reason      string           `json:"reason"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt time.Time        `json:"completed_at"`
	ArchiveKey  string           `json:"archive_key,omitempty"`
}

// OracleService settles events from the decision service's verdict. It
// never writes state itself; the verdict goes to SettlementService.Resolve
// unchanged.
type OracleService struct {
	client     OracleClient
	settlement *SettlementService
	events     *EventService
	reader     repository.Reader
	locker     Locker
	archive    TranscriptArchiver
	opts       OracleOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewOracleService creates an OracleService. client may be nil, in which
// case AutoResolve reports an ExternalServiceError.
func NewOracleService(
	client OracleClient,
	settlement *SettlementService,
	events *EventService,
	reader repository.Reader,
	locker Locker,
	opts OracleOptions,
	logger *slog.Logger,
) *OracleService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &OracleService{
		client:     client,
		settlement: settlement,
		events:     events,
		reader:     reader,
		locker:     locker,
		opts:       opts,
		logger:     logger.With("component", "oracle"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver injects the transcript archive (S3).
func (s *OracleService) SetArchiver(a TranscriptArchiver) { s.archive = a }

// ──────────────────────────────────────────────────────────────────────────────
// AutoResolve
// ──────────────────────────────────────────────────────────────────────────────

// AutoResolve asks the decision service who won and settles the event.
//
// The job is polled every PollInterval until it finishes, MaxAttempts polls
// were made or Timeout elapsed, whichever comes first; the last two return
// domain.ErrTimeout and leave the event active. An unparsable verdict, an
// unknown option or a confidence below the threshold settles as a refund.
func (s *OracleService) AutoResolve(ctx context.Context, eventID uuid.UUID) (*domain.Resolution, error) {
	if s.client == nil {
		return nil, fmt.Errorf("oracle_service.AutoResolve: %w", domain.External("oracle", errOracleDisabled))
	}
	detail, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("oracle_service.AutoResolve: %w", err)
	}
	if !detail.Event.IsActive() {
		return nil, fmt.Errorf("oracle_service.AutoResolve: %w", domain.ErrAlreadyResolved)
	}

	if s.locker != nil {
		lockTTL := s.opts.Timeout + time.Minute
		release, err := s.locker.Acquire(ctx, "oracle:"+eventID.String(), lockTTL)
		if err != nil {
			return nil, fmt.Errorf("oracle_service.AutoResolve: %w", err)
		}
		defer release()
	}

	start := time.Now()
	t := transcript{Prompt: oracle.BuildPrompt(detail), SubmittedAt: s.now()}
	t.JobID, err = s.client.SubmitJob(ctx, t.Prompt)
	if err != nil {
		metrics.OracleJobs.WithLabelValues("submit_error").Inc()
		return nil, fmt.Errorf("oracle_service.AutoResolve: submit: %w", asExternal("oracle", err))
	}
	s.logger.Info("oracle job submitted", "event_id", eventID, "job_id", t.JobID)

	t.Result, err = s.wait(ctx, t.JobID)
	metrics.OracleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		label := "error"
		if errors.Is(err, domain.ErrTimeout) {
			label = "timeout"
		}
		metrics.OracleJobs.WithLabelValues(label).Inc()
		s.logger.Warn("oracle job did not finish", "event_id", eventID, "job_id", t.JobID, "err", err)
		return nil, fmt.Errorf("oracle_service.AutoResolve: %w", err)
	}
	t.CompletedAt = s.now()

	outcome := oracle.Evaluate(t.Result, detail, s.opts.ConfidenceThreshold)
	t.Decision, t.OptionID, t.Reason = outcome.Decision, outcome.OptionID, outcome.Reason
	t.ArchiveKey = s.archiveTranscript(ctx, eventID, t)

	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("oracle_service.AutoResolve: transcript: %w", err)
	}
	var winners []string
	if !outcome.Refund() {
		winners = []string{outcome.OptionID}
	}
	res, err := s.settlement.Resolve(ctx, domain.ResolveRequest{
		EventID:          eventID,
		WinningOptionIDs: winners,
		Source:           domain.ResolutionOracle,
		Data:             data,
	})
	if err != nil {
		metrics.OracleJobs.WithLabelValues("settle_error").Inc()
		return nil, fmt.Errorf("oracle_service.AutoResolve: %w", err)
	}

	label := "resolved"
	if outcome.Refund() {
		label = "refund"
	}
	metrics.OracleJobs.WithLabelValues(label).Inc()
	s.logger.Info("event auto-resolved", "event_id", eventID, "job_id", t.JobID,
		"option_id", outcome.OptionID, "reason", outcome.Reason)
	return res, nil
}

// wait polls the job until it is done, failed or out of attempts.
func (s *OracleService) wait(ctx context.Context, jobID string) (string, error) {
	wctx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		select {
		case <-wctx.Done():
			return "", s.waitErr(ctx, jobID, attempt-1)
		case <-ticker.C:
		}

		st, err := s.client.JobStatus(wctx, jobID)
		if err != nil {
			if wctx.Err() != nil {
				return "", s.waitErr(ctx, jobID, attempt)
			}
			return "", asExternal("oracle", err)
		}
		switch st.State {
		case oracle.JobDone:
			return st.Result, nil
		case oracle.JobError:
			return "", domain.External("oracle", fmt.Errorf("job %s failed: %s", jobID, st.Error))
		}
	}
	return "", fmt.Errorf("%w: job %s still pending after %d polls", domain.ErrTimeout, jobID, s.opts.MaxAttempts)
}

func (s *OracleService) waitErr(ctx context.Context, jobID string, polls int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s still pending after %s (%d polls)", domain.ErrTimeout, jobID, s.opts.Timeout, polls)
}

// archiveTranscript stores the transcript and returns its key. Failures are
// logged only.
func (s *OracleService) archiveTranscript(ctx context.Context, eventID uuid.UUID, t transcript) string {
	if s.archive == nil {
		return ""
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	key, err := s.archive.PutTranscript(ctx, eventID, raw)
	if err != nil {
		s.logger.Warn("transcript archive failed", "event_id", eventID, "err", err)
		return ""
	}
	return key
}

// ──────────────────────────────────────────────────────────────────────────────
// AutoResolveDue: called by the scheduler every tick
// ──────────────────────────────────────────────────────────────────────────────

// AutoResolveDue runs AutoResolve for every active auto-resolve event whose
// resolution date has passed. A failing event does NOT abort the others and
// stays active for the next tick.
func (s *OracleService) AutoResolveDue(ctx context.Context) (resolved int, err error) {
	due, err := s.reader.ListDueEvents(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("oracle_service.AutoResolveDue: %w", err)
	}
	for _, ev := range due {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		_, err := s.AutoResolve(ctx, ev.ID)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, domain.ErrLockNotAcquired), errors.Is(err, domain.ErrAlreadyResolved):
			s.logger.Debug("auto-resolve skipped", "event_id", ev.ID, "err", err)
		default:
			s.logger.Error("auto-resolve failed", "event_id", ev.ID, "err", err)
		}
	}
	return resolved, nil
}
