// internal/service/reminder_service.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
)

var itemTypeLabels = map[model.ItemType]string{
	model.ItemTypeWord:     "単語",
	model.ItemTypeSentence: "例文",
	model.ItemTypeQA:       "問答",
}

// ReminderService は復習対象の件数をまとめてメールで知らせます
type ReminderService interface {
	SendDueDigest(ctx context.Context) error
}

type reminderService struct {
	store  store.Manager
	mailer Mailer
	cfg    *config.Config
	logger *slog.Logger
}

func NewReminderService(st store.Manager, mailer Mailer, cfg *config.Config, logger *slog.Logger) ReminderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &reminderService{store: st, mailer: mailer, cfg: cfg, logger: logger}
}

// SendDueDigest は現在言語の復習対象件数を集計して通知します。
// 対象が1件も無い日はメールを出さない。
func (s *reminderService) SendDueDigest(ctx context.Context) error {
	if !s.cfg.Reminder.Enabled || s.cfg.Reminder.To == "" {
		s.logger.Debug("Reminder disabled, skipping digest")
		return nil
	}

	lang, ok := s.store.CurrentLanguage()
	if !ok {
		s.logger.Info("No language selected, skipping reminder digest")
		return nil
	}

	total := 0
	var lines []string
	for _, t := range model.AllItemTypes {
		due := len(s.store.DueForReview(t))
		total += due
		if due > 0 {
			lines = append(lines, fmt.Sprintf("・%s: %d件", itemTypeLabels[t], due))
		}
	}
	if total == 0 {
		s.logger.Info("Nothing due for review, skipping reminder digest")
		return nil
	}

	subject := fmt.Sprintf("【%s】今日の復習: %d件", lang.Name, total)
	body := fmt.Sprintf("%s の復習対象が %d 件あります。\n\n%s\n", lang.Name, total, strings.Join(lines, "\n"))

	if err := s.mailer.Send(ctx, s.cfg.Reminder.To, subject, body); err != nil {
		s.logger.Error("Failed to send reminder digest", slog.Any("error", err))
		return err
	}
	s.logger.Info("Reminder digest sent", slog.Int("due_total", total))
	return nil
}
