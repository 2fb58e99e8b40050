package bootstrap

import (
	"context"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/config"
	"github.com/proofmarked/stepup-gateway/internal/service"
)

// EnsureAdminInvited invites the configured admin email on startup so a
// fresh deployment always has one account able to sign in. The invite is
// best effort: an address that already holds an account makes the provider
// reject the call, and that is the steady state, not a startup failure.
func EnsureAdminInvited(lc fx.Lifecycle, cfg config.Config, accounts *service.AccountService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ensureAdminInvited(ctx, cfg, accounts, logger)
			return nil
		},
	})
}

func ensureAdminInvited(ctx context.Context, cfg config.Config, accounts *service.AccountService, logger *zap.Logger) {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return
	}
	if strings.TrimSpace(cfg.IdPServiceKey) == "" {
		if logger != nil {
			logger.Warn("admin bootstrap skipped: no service key configured")
		}
		return
	}

	if err := accounts.Invite(ctx, email, cfg.LoginPath); err != nil {
		if logger != nil {
			logger.Warn("admin bootstrap invite not sent", zap.String("email", email), zap.Error(err))
		}
		return
	}

	if logger != nil {
		logger.Info("bootstrap admin invited", zap.String("email", email))
	}
}
