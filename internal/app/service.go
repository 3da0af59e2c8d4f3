package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Engine defaults.
const (
	DefaultLockTTL         = 30 * time.Second
	DefaultOpsLimit        = 200
	DefaultMaxOpsLimit     = 500
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultStreamBatchSize = 100
)

// tracerName identifies spans emitted by the engine.
const tracerName = "github.com/hylla/shiftsync/internal/app"

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	AllowedValues   []string
	LockTTL         time.Duration
	DefaultOpsLimit int
	MaxOpsLimit     int
	PollInterval    time.Duration
	StreamBatchSize int
	Logger          Logger
	Recorder        Recorder
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates cell writes, soft locks, the operation feed, and bulk reconciliation.
type Service struct {
	repo            Repository
	idGen           IDGenerator
	clock           Clock
	allowed         atomic.Pointer[domain.ValueSet]
	lockTTL         time.Duration
	defaultOpsLimit int
	maxOpsLimit     int
	pollInterval    time.Duration
	streamBatchSize int
	logger          Logger
	recorder        Recorder
	tracer          trace.Tracer
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.AllowedValues == nil {
		cfg.AllowedValues = domain.DefaultAllowedValues()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxOpsLimit <= 0 {
		cfg.MaxOpsLimit = DefaultMaxOpsLimit
	}
	if cfg.DefaultOpsLimit <= 0 {
		cfg.DefaultOpsLimit = DefaultOpsLimit
	}
	cfg.DefaultOpsLimit = min(cfg.DefaultOpsLimit, cfg.MaxOpsLimit)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StreamBatchSize <= 0 {
		cfg.StreamBatchSize = DefaultStreamBatchSize
	}
	cfg.StreamBatchSize = min(cfg.StreamBatchSize, cfg.MaxOpsLimit)
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	svc := &Service{
		repo:            repo,
		idGen:           idGen,
		clock:           clock,
		lockTTL:         cfg.LockTTL,
		defaultOpsLimit: cfg.DefaultOpsLimit,
		maxOpsLimit:     cfg.MaxOpsLimit,
		pollInterval:    cfg.PollInterval,
		streamBatchSize: cfg.StreamBatchSize,
		logger:          cfg.Logger,
		recorder:        cfg.Recorder,
		tracer:          otel.Tracer(tracerName),
	}
	svc.SetAllowedValues(domain.NewValueSet(cfg.AllowedValues))
	return svc
}

// SetAllowedValues swaps the allowed value set used by later writes.
func (s *Service) SetAllowedValues(values domain.ValueSet) {
	s.allowed.Store(&values)
}

// AllowedValues returns the active allowed value set.
func (s *Service) AllowedValues() domain.ValueSet {
	if values := s.allowed.Load(); values != nil {
		return *values
	}
	return domain.NewValueSet(nil)
}

// LockTTL returns the configured soft-lock lifetime.
func (s *Service) LockTTL() time.Duration {
	return s.lockTTL
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
