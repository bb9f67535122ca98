package usecases

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type SweeperOptions struct {
	Spec        string
	Grace       time.Duration
	MaxTokenAge time.Duration
	BatchSize   int
}

// Sweeper fires debounce tokens whose waiter never ran, typically because the
// process holding it restarted. Tokens are claimed before firing so a sweep
// racing a live waiter sends nothing twice.
type Sweeper struct {
	chats     ChatStore
	scheduler *Scheduler
	opts      SweeperOptions
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSweeper(chats ChatStore, scheduler *Scheduler, opts SweeperOptions, logger zerolog.Logger) *Sweeper {
	if opts.Spec == "" {
		opts.Spec = "@every 30s"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Sweeper{
		chats:     chats,
		scheduler: scheduler,
		opts:      opts,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "sweeper").Logger(),
		now:       time.Now,
	}
}

// Start registers the sweep job. Stop waits for a running sweep to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.opts.Spec, func() { s.Sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.opts.Spec).Msg("debounce sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep fires every overdue token in one batch and returns how many it tried.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now().UTC()
	due := now.Add(-s.opts.Grace)
	oldest := time.Time{}
	if s.opts.MaxTokenAge > 0 {
		oldest = now.Add(-s.opts.MaxTokenAge)
	}

	chats, err := s.chats.ListDueTokens(ctx, due, oldest, s.opts.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("list due debounce tokens")
		return 0
	}
	for _, chat := range chats {
		if chat.DebounceToken == nil {
			continue
		}
		s.logger.Debug().Str("chat_id", chat.ID).Time("token", *chat.DebounceToken).Msg("overdue debounce token")
		if err := s.scheduler.Fire(ctx, chat.ID, *chat.DebounceToken); err != nil {
			s.logger.Error().Err(err).Str("chat_id", chat.ID).Msg("recovered reply failed")
		}
	}
	return len(chats)
}
