package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/models"
)

// AlertService delivers operational alerts to the admin chat. Alerts below
// the configured minimum level only land in the log; alerts carrying a
// dedupe key are sent at most once across all replicas.
type AlertService struct {
	notifier  Notifier
	notifRepo onceReserver
	cfg       *config.Config
	log       *zap.Logger
}

func NewAlertService(notifier Notifier, notifRepo onceReserver, cfg *config.Config, log *zap.Logger) *AlertService {
	return &AlertService{notifier: notifier, notifRepo: notifRepo, cfg: cfg, log: log}
}

// Alert sends text to the admin chat at the given level. dedupeKey may be
// empty, in which case every call sends.
func (s *AlertService) Alert(ctx context.Context, level, dedupeKey, text string) {
	if !models.AlertLevelAtLeast(level, s.cfg.AdminAlertMinLevel) {
		s.log.Debug("alert below min level", zap.String("level", level), zap.String("text", text))
		return
	}
	if s.cfg.AdminAlertChatID == 0 {
		s.log.Warn("admin alert chat not configured", zap.String("level", level), zap.String("text", text))
		return
	}

	if dedupeKey != "" {
		won, err := s.notifRepo.ReserveOnce(ctx, dedupeKey, "admin_alert", nil)
		if err != nil {
			s.log.Warn("alert dedupe reserve failed", zap.Error(err))
			return
		}
		if !won {
			return
		}
	}

	if err := s.notifier.NotifyChat(ctx, s.cfg.AdminAlertChatID, "["+level+"] "+text); err != nil {
		s.log.Warn("admin alert delivery failed", zap.Error(err), zap.String("text", text))
	}
}
