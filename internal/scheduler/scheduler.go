// internal/scheduler/scheduler.go
//
// 定期ジョブ: 自動再同期と、復習リマインダーの日次送信。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/service"
	"go_5_vocab_sync/internal/store"
)

type Scheduler struct {
	s        *gocron.Scheduler
	store    store.Manager
	reminder service.ReminderService
	cfg      *config.Config
	logger   *slog.Logger
}

func New(st store.Manager, reminder service.ReminderService, cfg *config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		s:        gocron.NewScheduler(time.Local),
		store:    st,
		reminder: reminder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start は設定に応じたジョブを登録して非同期に開始します
func (s *Scheduler) Start() error {
	if minutes := s.cfg.Sync.AutoSyncMinutes; minutes > 0 {
		if _, err := s.s.Every(minutes).Minutes().Do(s.runResync); err != nil {
			return fmt.Errorf("failed to schedule auto resync: %w", err)
		}
		s.logger.Info("Auto resync scheduled", slog.Int("interval_minutes", minutes))
	}

	if s.cfg.Reminder.Enabled {
		at := fmt.Sprintf("%02d:00", s.cfg.Reminder.Hour)
		if _, err := s.s.Every(1).Day().At(at).Do(s.runReminder); err != nil {
			return fmt.Errorf("failed to schedule reminder digest: %w", err)
		}
		s.logger.Info("Reminder digest scheduled", slog.String("at", at))
	}

	s.s.StartAsync()
	return nil
}

func (s *Scheduler) Stop() {
	s.s.Stop()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runResync() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.store.Resync(ctx); err != nil {
		s.logger.Warn("Scheduled resync failed", slog.Any("error", err))
	}
}

func (s *Scheduler) runReminder() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.reminder.SendDueDigest(ctx); err != nil {
		s.logger.Warn("Scheduled reminder failed", slog.Any("error", err))
	}
}
