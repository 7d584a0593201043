// Package notify delivers change-request resolutions to participants over
// Telegram. A background poller picks up resolved requests that have not
// been delivered yet and fans them out to every linked recipient.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"teamplan/internal/models"
)

// Config holds configuration for the delivery service.
type Config struct {
	// CheckInterval is how often to poll for undelivered resolutions.
	// Default: 1 minute.
	CheckInterval time.Duration

	// MaxConcurrent limits parallel deliveries. Default: 10.
	MaxConcurrent int

	// BatchSize caps how many resolutions one cycle picks up. Default: 50.
	BatchSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval: time.Minute,
		MaxConcurrent: 10,
		BatchSize:     50,
	}
}

// DeliveryStore provides access to resolved requests awaiting delivery.
type DeliveryStore interface {
	// ListUndeliveredResolutions returns resolved change requests whose
	// participants have not been notified yet.
	ListUndeliveredResolutions(ctx context.Context, limit int) ([]models.ChangeRequest, error)

	// ListRecipients returns the participants of the request's schedule
	// that have a Telegram chat linked.
	ListRecipients(ctx context.Context, requestID string) ([]models.User, error)

	// MarkDelivered marks a change request as delivered.
	MarkDelivered(ctx context.Context, requestID string) error
}

// Sender delivers a single resolution notice to a chat.
type Sender interface {
	SendResolution(ctx context.Context, chatID int64, req models.ChangeRequest) error
}

// Service polls for resolved change requests and notifies participants.
type Service struct {
	config  *Config
	store   DeliveryStore
	sender  Sender
	limiter *RateLimiter
	metrics *Metrics
	logger  *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates a new delivery service. metrics may be nil.
func NewService(config *Config, store DeliveryStore, sender Sender, limiter *RateLimiter, metrics *Metrics, logger *zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = time.Minute
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 10
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimiterConfig())
	}

	return &Service{
		config:  config,
		store:   store,
		sender:  sender,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the delivery loop.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Int("max_concurrent", s.config.MaxConcurrent).
		Msg("Delivery service started")
}

// Stop gracefully stops the delivery service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("Delivery service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndDeliver()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndDeliver()
		}
	}
}

func (s *Service) checkAndDeliver() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pending, err := s.store.ListUndeliveredResolutions(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list undelivered resolutions")
		return
	}
	if s.metrics != nil {
		s.metrics.SetQueueSize(int64(len(pending)))
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Debug().Int("count", len(pending)).Msg("Delivering resolutions")

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, req := range pending {
		wg.Add(1)
		sem <- struct{}{}

		go func(r models.ChangeRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.deliver(ctx, r); err != nil {
				s.logger.Error().Err(err).
					Str("request_id", r.ID).
					Msg("Failed to deliver resolution")
			}
		}(req)
	}

	wg.Wait()
}

// deliver notifies every linked participant and marks the request
// delivered. A request with no linked recipients is marked delivered
// immediately so it does not clog the queue.
func (s *Service) deliver(ctx context.Context, req models.ChangeRequest) error {
	recipients, err := s.store.ListRecipients(ctx, req.ID)
	if err != nil {
		return err
	}

	start := time.Now()
	var failed int
	for _, u := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.sender.SendResolution(ctx, u.TelegramChatID, req); err != nil {
			failed++
			s.logger.Error().Err(err).
				Str("request_id", req.ID).
				Int64("user_id", u.ID).
				Msg("Failed to send resolution notice")
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveSendDuration(time.Since(start).Seconds())
	}

	if failed > 0 {
		// Leave the request queued so the next cycle retries it.
		if s.metrics != nil {
			s.metrics.IncSent("failed", req.State)
		}
		return nil
	}

	if err := s.store.MarkDelivered(ctx, req.ID); err != nil {
		s.logger.Error().Err(err).
			Str("request_id", req.ID).
			Msg("Failed to mark resolution delivered (notices were sent)")
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncSent("sent", req.State)
	}
	s.logger.Info().
		Str("request_id", req.ID).
		Int("recipients", len(recipients)).
		Msg("Resolution delivered")
	return nil
}

// CheckNow triggers an immediate delivery cycle.
func (s *Service) CheckNow() {
	s.checkAndDeliver()
}
