package app

import (
	"context"
	"strings"

	"YieldAccrual/internal/notifier"
	"YieldAccrual/internal/scheduler"
)

// CommandHandler answers Telegram bot commands for the account's session.
func CommandHandler(m *scheduler.Manager, accountID string) notifier.CommandHandler {
	return func(ctx context.Context, command string) string {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return ""
		}
		s, ok := m.Get(accountID)
		if !ok {
			return "no active session"
		}

		switch fields[0] {
		case "/yield":
			d, err := s.Derived()
			if err != nil {
				return "⚠️ " + err.Error()
			}
			return notifier.FormatDerived(&d)
		case "/refresh":
			if err := s.Refresh(ctx); err != nil {
				return "❌ refresh failed: " + err.Error()
			}
			return "✅ baseline reloaded"
		case "/status":
			return "status: " + string(s.Status())
		case "/help", "/start":
			return "/yield - current accrued yield\n/refresh - reload baseline from store\n/status - session status"
		}
		return "unknown command, try /help"
	}
}
