package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/service/generator"
	"github.com/ifuryst/reposter/internal/service/ledger"
	"github.com/ifuryst/reposter/internal/service/publisher"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

// PublisherService assembles the publishing pipeline: wall client, upload
// queue, credentials, ledger, generators and the task executor.
type PublisherService struct {
	logger   *zap.Logger
	location *time.Location

	queue      *publisher.UploadQueue
	ledger     *ledger.Ledger
	generators *generator.Registry
	executor   *TaskExecutor
}

func NewPublisherService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*PublisherService, error) {
	return NewPublisherServiceWithPlatform(cfg, db, wall.NewClient(&cfg.Wall, logger), logger)
}

// NewPublisherServiceWithPlatform is NewPublisherService with the wall API
// swapped out.
func NewPublisherServiceWithPlatform(cfg *config.Config, db *gorm.DB, platform publisher.Platform, logger *zap.Logger) (*PublisherService, error) {
	location, err := LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Warn("Falling back to UTC for schedules", zap.Error(err))
	}

	generators := generator.NewRegistry()
	if err := generator.RegisterBuiltins(generators); err != nil {
		return nil, fmt.Errorf("failed to register generators: %w", err)
	}

	queue := publisher.NewUploadQueue(platform, &cfg.UploadQueue, logger.Named("upload_queue"))
	l := ledger.New(db, logger.Named("ledger"))
	credentials := publisher.NewCredentials(db, cfg.Wall.RequiredScopes, logger)
	resolver := publisher.NewAttachmentResolver(platform, queue, logger)
	pub := publisher.NewPublisher(platform, credentials, resolver, l, logger.Named("publisher"))
	selector := NewCandidateSelector(db, l, cfg.Executor.SelectorMaxIterations, logger)
	executor := NewTaskExecutor(db, l, selector, pub, generators, &cfg.Executor, location, logger.Named("executor"))

	logger.Info("Publisher service initialized",
		zap.String("wall_base_url", cfg.Wall.BaseURL),
		zap.Strings("required_scopes", credentials.RequiredScopes()),
		zap.Int("generators", len(generators.List())))

	return &PublisherService{
		logger:     logger,
		location:   location,
		queue:      queue,
		ledger:     l,
		generators: generators,
		executor:   executor,
	}, nil
}

// Start launches the upload queue drain loop.
func (s *PublisherService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

func (s *PublisherService) Stop() {
	s.queue.Stop()
	s.logger.Info("Publisher service stopped")
}

func (s *PublisherService) Executor() *TaskExecutor {
	return s.executor
}

func (s *PublisherService) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *PublisherService) Generators() *generator.Registry {
	return s.generators
}

func (s *PublisherService) Location() *time.Location {
	return s.location
}
