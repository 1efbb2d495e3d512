// Package scheduler re-verifies the configured cascade entries on a cron
// schedule, so tool-choice capability flags stay current. Models that fail
// verification are logged; their cascade entries are left unchanged.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/cascade"
)

// verifyTimeout bounds one full verification sweep.
const verifyTimeout = 5 * time.Minute

// CascadeClient is the slice of the cascade the scheduler drives.
type CascadeClient interface {
	Config() cascade.Config
	Verify(ctx context.Context, e cascade.Entry) cascade.VerifyResult
	SetNoToolChoice(key string, v bool) bool
}

// Persister saves the cascade configuration after a flag change.
type Persister interface {
	SaveCascade(cascade.Config) error
}

type Scheduler struct {
	cron   *cron.Cron
	client CascadeClient
	store  Persister
	logger *zap.Logger
}

func New(client CascadeClient, store Persister, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		client: client,
		store:  store,
		logger: logger.Named("scheduler"),
	}
}

// Start registers the verification job and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("empty verification schedule")
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()
		s.RunVerification(ctx)
	})
	if err != nil {
		return fmt.Errorf("verification schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("verification scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the cron loop, waiting for a running sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunVerification probes every configured entry once. Entries that only
// answer without tool_choice get flagged; flag changes are persisted.
func (s *Scheduler) RunVerification(ctx context.Context) {
	changed := false
	for _, entry := range s.client.Config().All() {
		res := s.client.Verify(ctx, entry)
		switch {
		case !res.Valid:
			s.logger.Warn("model failed verification",
				zap.String("key", entry.Key()), zap.String("error", res.Error))
		case res.NoToolChoice && !entry.NoToolChoice:
			if s.client.SetNoToolChoice(entry.Key(), true) {
				changed = true
				s.logger.Info("flagged no_tool_choice", zap.String("key", entry.Key()))
			}
		}
	}

	if changed && s.store != nil {
		if err := s.store.SaveCascade(s.client.Config()); err != nil {
			s.logger.Error("persisting cascade flags failed", zap.Error(err))
		}
	}
}
