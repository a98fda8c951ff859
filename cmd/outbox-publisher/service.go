package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/config"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/metrics"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	defaultRetentionDays  = 30
	defaultSweepInterval  = time.Hour
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	relayName        = "redis"
	publishOperation = "outbox_publish"
	sweepOperation   = "outbox_retention"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type channelPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// relayGuard dedupes deliveries when a publish succeeds but the marking tx does not commit.
type relayGuard interface {
	Claim(ctx context.Context, relay string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, relay string, eventID uuid.UUID) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Publisher  channelPublisher
	Repository outboxRepository
	Registry   registryResolver
	Guard      relayGuard
	Metrics    *metrics.OperationMetrics
	InstanceID string
	Now        func() time.Time
}

type Service struct {
	cfg           *config.Config
	logg          *logger.Logger
	db            dbClient
	repo          outboxRepository
	publisher     channelPublisher
	registry      registryResolver
	guard         relayGuard
	metrics       *metrics.OperationMetrics
	instanceID    string
	now           func() time.Time
	batchSize     int
	maxAttempts   int
	pollInterval  time.Duration
	retention     time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("redis publisher is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	outboxCfg := params.Config.Outbox
	batch := outboxCfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := outboxCfg.PollInterval()
	if poll <= 0 {
		poll = time.Duration(defaultPollMs) * time.Millisecond
	}
	maxAttempts := outboxCfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retentionDays := outboxCfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	sweep := outboxCfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:           params.Config,
		logg:          params.Logger,
		db:            params.DB,
		repo:          params.Repository,
		publisher:     params.Publisher,
		registry:      params.Registry,
		guard:         params.Guard,
		metrics:       params.Metrics,
		instanceID:    params.InstanceID,
		now:           now,
		batchSize:     batch,
		maxAttempts:   maxAttempts,
		pollInterval:  poll,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		sweepInterval: sweep,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "redis", s.publisher.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		s.maybeSweep(ctx)

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		processed = true
		for _, event := range events {
			resolved, err := s.registry.Resolve(event)
			if err != nil {
				if markErr := s.handleTerminal(ctx, tx, event, "non_retryable", err, nil); markErr != nil {
					return markErr
				}
				continue
			}

			channel := resolved.Descriptor.Channel
			fields := s.eventFields(event, resolved.Envelope, channel)
			start := time.Now()
			err = s.publishResolved(ctx, event, resolved)
			s.metrics.Track(publishOperation, start, err)
			if err != nil {
				var nonRetry registry.NonRetryableError
				if errors.As(err, &nonRetry) {
					if markErr := s.handleTerminal(ctx, tx, event, "non_retryable", err, fields); markErr != nil {
						return markErr
					}
					continue
				}

				nextAttempt := event.AttemptCount + 1
				fields["attempt_count"] = nextAttempt

				if nextAttempt >= s.maxAttempts {
					terminalErr := fmt.Errorf("max publish attempts reached: %w", err)
					if markErr := s.handleTerminal(ctx, tx, event, "max_attempts", terminalErr, fields); markErr != nil {
						return markErr
					}
					continue
				}

				ctxWithFields := s.logg.WithFields(ctx, fields)
				ctxWithFields = s.logg.WithField(ctxWithFields, "error", err.Error())
				s.logg.Warn(ctxWithFields, "outbox publish failed")
				if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
					return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
				}
				continue
			}

			if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
				return fmt.Errorf("mark published %s: %w", event.ID, markErr)
			}
			s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		}
		return nil
	})
	return processed, err
}

// handleTerminal parks the row with terminal_at set. It is never fetched again.
func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason string, err error, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, "")
	}
	fields["terminal_reason"] = reason
	ctxWithFields := s.logg.WithFields(ctx, fields)
	ctxWithFields = s.logg.WithField(ctxWithFields, "error", err.Error())
	s.logg.Warn(ctxWithFields, "outbox event will not be retried")

	attempts := event.AttemptCount + 1
	if reason == "max_attempts" {
		attempts = s.maxAttempts
	}
	if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, attempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	return nil
}

// publishResolved sends the stored envelope verbatim on the descriptor channel. An event
// already claimed by an earlier delivery is treated as published.
func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	channel := resolved.Descriptor.Channel
	if channel == "" {
		return registry.NewNonRetryableError(fmt.Errorf("no channel registered for %s", event.EventType))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	eventID, _ := uuid.Parse(resolved.Envelope.EventID)
	if s.guard != nil && eventID != uuid.Nil {
		claimed, err := s.guard.Claim(publishCtx, relayName, eventID)
		if err != nil {
			return fmt.Errorf("claim relay key: %w", err)
		}
		if !claimed {
			s.logg.Debug(s.logg.WithField(ctx, "event_id", eventID.String()), "outbox event already relayed")
			return nil
		}
	}

	if _, err := s.publisher.Publish(publishCtx, channel, event.Payload); err != nil {
		if s.guard != nil && eventID != uuid.Nil {
			if relErr := s.guard.Release(ctx, relayName, eventID); relErr != nil {
				err = multierr.Append(err, fmt.Errorf("release relay key: %w", relErr))
			}
		}
		return err
	}
	return nil
}

// maybeSweep deletes relayed rows past retention at most once per sweep interval.
func (s *Service) maybeSweep(ctx context.Context) {
	now := s.now().UTC()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.sweepInterval {
		return
	}
	s.lastSweep = now

	start := time.Now()
	cutoff := now.Add(-s.retention)
	var deleted int64
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = s.repo.DeletePublishedBefore(ctx, tx, cutoff)
		return err
	})
	s.metrics.Track(sweepOperation, start, err)
	if err != nil {
		s.logg.Error(ctx, "outbox retention sweep failed", err)
		return
	}
	if deleted > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}), "outbox retention sweep")
	}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, channel string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     s.batchSize,
		"attempt_count":  event.AttemptCount,
	}
	if s.instanceID != "" {
		fields["instance"] = s.instanceID
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if channel != "" {
		fields["channel"] = channel
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
