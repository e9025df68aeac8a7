package relayer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/config"
	"github.com/profilerelay/relayer/pkg/chain"
	"github.com/profilerelay/relayer/pkg/db"
	"github.com/profilerelay/relayer/pkg/queue"
)

// Service is the request-time coordinator. It holds no state of its own; all
// durable state lives behind Store and all chain interaction behind
// ChainClient.
type Service struct {
	store       Store
	chainClient ChainClient
	publisher   Publisher
	executor    *Executor
	queueClient *queue.Client
}

func NewService(cfg *config.Config, dbAdapter *db.DatabaseAdapter) (*Service, error) {
	chainClient, err := chain.NewEvmClient(&cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}

	service := &Service{
		store:       dbAdapter,
		chainClient: chainClient,
		publisher:   queueClient,
		queueClient: queueClient,
	}
	service.executor = NewExecutor(dbAdapter, chainClient, queueClient)
	return service, nil
}

// NewServiceWithDeps wires a Service from explicit collaborators. Used by
// tests and callers that manage their own adapters.
func NewServiceWithDeps(store Store, chainClient ChainClient, publisher Publisher) *Service {
	return &Service{
		store:       store,
		chainClient: chainClient,
		publisher:   publisher,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s.executor != nil {
		if err := s.executor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start executor: %w", err)
		}
	}
	log.Info().Msg("[Relayer] service started")
	return nil
}

func (s *Service) Stop() {
	if s.queueClient != nil {
		s.queueClient.Close()
	}
	log.Info().Msg("[Relayer] service stopped")
}
