package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/config"
	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/idp"
	"github.com/proofmarked/stepup-gateway/internal/session"
)

const sessionKey = "authSession"

// Gateway is the assurance-level request gate. It classifies every inbound
// request as unauthenticated, AAL1, or AAL2 — fresh on each request, nothing
// cached — and routes it to proceed or to the configured redirect target.
type Gateway struct {
	cookies *session.CookieStore
	factory *idp.Factory
	logger  *zap.Logger

	protectedPrefixes []string
	bypassPrefixes    []string
	loginPath         string
	mfaSetupPath      string
	mfaVerifyPath     string
}

// NewGateway builds the gate from configuration; redirect targets and path
// prefixes are fixed at construction, never negotiated per-request.
func NewGateway(cfg config.Config, cookies *session.CookieStore, factory *idp.Factory, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.L()
	}
	return &Gateway{
		cookies:           cookies,
		factory:           factory,
		logger:            logger,
		protectedPrefixes: cfg.ProtectedPrefixes,
		bypassPrefixes:    cfg.BypassPrefixes,
		loginPath:         cfg.LoginPath,
		mfaSetupPath:      cfg.MFASetupPath,
		mfaVerifyPath:     cfg.MFAVerifyPath,
	}
}

// Handler returns the gin middleware enforcing the gate.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// Authentication endpoints must stay reachable while unauthenticated.
		if hasPrefix(path, g.bypassPrefixes) {
			c.Next()
			return
		}

		sess, factors := g.resolve(c)
		if sess != nil {
			c.Set(sessionKey, *sess)
		}

		if !hasPrefix(path, g.protectedPrefixes) {
			c.Next()
			return
		}

		if sess == nil {
			g.redirect(c, g.loginPath)
			return
		}
		// A user without a verified factor never reaches the protected area,
		// regardless of password validity.
		if _, ok := domain.VerifiedTOTP(factors); !ok {
			g.redirect(c, g.mfaSetupPath)
			return
		}
		if sess.CurrentLevel != domain.AAL2 {
			g.redirect(c, g.mfaVerifyPath)
			return
		}

		c.Next()
	}
}

// resolve derives the session from cookies by presenting the pair to the
// provider. Any failure degrades to unauthenticated; the gate itself never
// aborts the pipeline.
func (g *Gateway) resolve(c *gin.Context) (*domain.Session, []domain.Factor) {
	pair, ok := g.cookies.Read(c.Request)
	if !ok {
		return nil, nil
	}

	client, err := g.factory.FromTokenPair(c.Request.Context(), pair)
	if err != nil {
		g.logger.Debug("session resolution failed", zap.Error(err))
		return nil, nil
	}

	// Binding may have rotated an expired pair; keep the cookies current.
	if rotated := client.TokenPair(); rotated != pair {
		if err := g.cookies.Write(c.Writer, rotated); err != nil {
			g.logger.Warn("persist rotated session failed", zap.Error(err))
		}
	}

	sess := client.Session()
	return &sess, client.Factors()
}

func (g *Gateway) redirect(c *gin.Context, target string) {
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func hasPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GetSession exposes the resolved session to downstream handlers.
func GetSession(c *gin.Context) (domain.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return domain.Session{}, false
	}
	sess, ok := value.(domain.Session)
	return sess, ok
}
