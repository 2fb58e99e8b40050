// Package handler exposes the authentication protocols over HTTP. Request
// and response shapes are explicit per endpoint and validated at the
// boundary before any protocol component runs.
package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/adapter/cache"
	"github.com/proofmarked/stepup-gateway/internal/audit"
	"github.com/proofmarked/stepup-gateway/internal/config"
	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/service"
	"github.com/proofmarked/stepup-gateway/internal/session"
)

// AuthHandler orchestrates the authentication endpoints.
type AuthHandler struct {
	Login    *service.LoginService
	StepUp   *service.StepUpService
	Enroll   *service.EnrollService
	Account  *service.AccountService
	Cookies  *session.CookieStore
	Throttle cache.Throttle
	Recorder audit.Recorder
	Logger   *zap.Logger

	loginPath     string
	mfaSetupPath  string
	protectedHome string
	callbackPath  string
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(
	cfg config.Config,
	login *service.LoginService,
	stepUp *service.StepUpService,
	enroll *service.EnrollService,
	account *service.AccountService,
	cookies *session.CookieStore,
	throttle cache.Throttle,
	recorder audit.Recorder,
	logger *zap.Logger,
) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{
		Login:         login,
		StepUp:        stepUp,
		Enroll:        enroll,
		Account:       account,
		Cookies:       cookies,
		Throttle:      throttle,
		Recorder:      recorder,
		Logger:        logger,
		loginPath:     cfg.LoginPath,
		mfaSetupPath:  cfg.MFASetupPath,
		protectedHome: cfg.ProtectedHome,
		callbackPath:  "/auth/callback",
	}
}

type tokenPairPayload struct {
	AccessToken  string `json:"accessToken" binding:"required"`
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (p *tokenPairPayload) pair() domain.TokenPair {
	return domain.TokenPair{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

type loginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required,min=8"`
}

// PostLogin runs the login protocol: 200 proceed, 202 step-up required,
// 428 enrollment required, 400/401 rejected.
func (h *AuthHandler) PostLogin(c *gin.Context) {
	if !h.allowAttempt(c, "login") {
		return
	}

	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid credentials."})
		return
	}

	result, err := h.Login.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	switch result.Outcome {
	case service.LoginAuthenticated:
		if err := h.Cookies.Write(c.Writer, result.TokenPair); err != nil {
			h.respondAuthError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})

	case service.LoginEnrollRequired:
		if err := h.Cookies.Write(c.Writer, result.TokenPair); err != nil {
			h.respondAuthError(c, err)
			return
		}
		c.JSON(http.StatusPreconditionRequired, gin.H{
			"error":     "No MFA factor found. Please enroll MFA.",
			"enrollUrl": h.mfaSetupPath,
		})

	case service.LoginStepUpRequired:
		// The provisional pair travels in the payload; cookies are only
		// written once step-up verification succeeds.
		c.JSON(http.StatusAccepted, gin.H{
			"requiresMfa": true,
			"factorId":    result.StepUp.FactorID,
			"factorLabel": result.StepUp.FactorLabel,
			"challengeId": result.StepUp.ChallengeID,
			"tempTokens": gin.H{
				"accessToken":  result.StepUp.TempTokens.AccessToken,
				"refreshToken": result.StepUp.TempTokens.RefreshToken,
			},
		})
	}
}

type challengeRequest struct {
	FactorID   string            `json:"factorId" binding:"required"`
	TempTokens *tokenPairPayload `json:"tempTokens"`
}

// PostMFAChallenge issues (or rotates) a step-up challenge for a factor.
func (h *AuthHandler) PostMFAChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	pair, ok := h.requestPair(c, req.TempTokens)
	if !ok {
		return
	}

	challenge, err := h.StepUp.Challenge(c.Request.Context(), pair, req.FactorID)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challengeId": challenge.ID})
}

type verifyRequest struct {
	FactorID    string            `json:"factorId" binding:"required"`
	ChallengeID string            `json:"challengeId" binding:"required"`
	Code        string            `json:"code" binding:"required,min=6,max=10"`
	TempTokens  *tokenPairPayload `json:"tempTokens"`
}

// PostMFAVerify redeems a one-time code. Success persists the upgraded pair
// as cookies; failure leaves session state untouched.
func (h *AuthHandler) PostMFAVerify(c *gin.Context) {
	if !h.allowAttempt(c, "verify") {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	pair, ok := h.requestPair(c, req.TempTokens)
	if !ok {
		return
	}

	upgraded, err := h.StepUp.Verify(c.Request.Context(), pair, req.FactorID, req.ChallengeID, req.Code)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	if err := h.Cookies.Write(c.Writer, upgraded); err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetEnroll issues a new pending TOTP factor and returns its scannable
// payload. A verified factor makes this redundant: the caller is redirected
// to the protected area and no second factor is ever issued.
func (h *AuthHandler) GetEnroll(c *gin.Context) {
	pair, ok := h.Cookies.Read(c.Request)
	if !ok {
		c.Redirect(http.StatusFound, h.loginPath)
		return
	}

	enrollment, err := h.Enroll.Start(c.Request.Context(), pair)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrFactorVerified):
			c.Redirect(http.StatusFound, h.protectedHome)
		case errors.Is(err, domain.ErrNotAuthenticated):
			c.Redirect(http.StatusFound, h.loginPath)
		default:
			h.respondAuthError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"factorId":  enrollment.FactorID,
		"secret":    enrollment.Secret,
		"qrPayload": enrollment.QRPayload,
		"uri":       enrollment.URI,
	})
}

type enrollConfirmRequest struct {
	FactorID string `json:"factorId" form:"factorId" binding:"required"`
	Code     string `json:"code" form:"code" binding:"required,min=6,max=10"`
}

// PostEnroll confirms the first code for a freshly enrolled factor and
// promotes the session to AAL2.
func (h *AuthHandler) PostEnroll(c *gin.Context) {
	pair, ok := h.Cookies.Read(c.Request)
	if !ok {
		c.Redirect(http.StatusFound, h.loginPath)
		return
	}

	var req enrollConfirmRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Redirect(http.StatusSeeOther, h.mfaSetupPath+"?error=invalid")
		return
	}

	upgraded, err := h.Enroll.Confirm(c.Request.Context(), pair, req.FactorID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotAuthenticated):
			c.Redirect(http.StatusFound, h.loginPath)
		case errors.Is(err, domain.ErrVerificationFailed), errors.Is(err, domain.ErrValidation):
			c.Redirect(http.StatusSeeOther, h.mfaSetupPath+"?error=invalid")
		default:
			h.respondAuthError(c, err)
		}
		return
	}

	if err := h.Cookies.Write(c.Writer, upgraded); err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.protectedHome)
}

// PostLogout clears both session cookies unconditionally.
func (h *AuthHandler) PostLogout(c *gin.Context) {
	h.Cookies.Clear(c.Writer)
	h.Recorder.Record(c.Request.Context(), audit.Event{Kind: audit.KindLogout, ClientIP: c.ClientIP()})
	c.Redirect(http.StatusFound, "/")
}

type registerRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

// PostRegister sends an invitation email through the provider's admin
// surface.
func (h *AuthHandler) PostRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid email address."})
		return
	}

	if err := h.Account.Invite(c.Request.Context(), req.Email, h.loginPath); err != nil {
		h.Logger.Error("invite failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invite_failed", "error_description": "Unable to send invite. Please try again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setPasswordRequest struct {
	AccessToken  string `json:"accessToken" form:"accessToken" binding:"required"`
	RefreshToken string `json:"refreshToken" form:"refreshToken" binding:"required"`
	Password     string `json:"password" form:"password" binding:"required,min=8"`
}

// PostSetPassword lets an invited user set a first password from the
// recovery pair in the invitation link, then sends them to enrollment.
func (h *AuthHandler) PostSetPassword(c *gin.Context) {
	var req setPasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		h.callbackErrorRedirect(c, "Invalid request. Password must be at least 8 characters.")
		return
	}

	pair := domain.TokenPair{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
	rotated, err := h.Account.SetPassword(c.Request.Context(), pair, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotAuthenticated):
			h.callbackErrorRedirect(c, "Your invitation link expired. Request a new one.")
		case errors.Is(err, domain.ErrValidation):
			h.callbackErrorRedirect(c, "Invalid request. Password must be at least 8 characters.")
		default:
			h.callbackErrorRedirect(c, "Session error. Please try again.")
		}
		return
	}

	if err := h.Cookies.Write(c.Writer, rotated); err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.mfaSetupPath)
}

// requestPair resolves the pair an MFA call operates on: the client-carried
// provisional pair when present, else the session cookies.
func (h *AuthHandler) requestPair(c *gin.Context, temp *tokenPairPayload) (domain.TokenPair, bool) {
	if temp != nil {
		return temp.pair(), true
	}
	pair, ok := h.Cookies.Read(c.Request)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "error_description": "Not authenticated."})
		return domain.TokenPair{}, false
	}
	return pair, true
}

// allowAttempt applies the brute-force throttle for credential and code
// endpoints. Throttle backend failures fail open: Redis being down must not
// take authentication down with it.
func (h *AuthHandler) allowAttempt(c *gin.Context, action string) bool {
	allowed, err := h.Throttle.Allow(c.Request.Context(), action+":"+c.ClientIP())
	if err != nil {
		h.Logger.Warn("attempt throttle unavailable", zap.String("action", action), zap.Error(err))
		return true
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate_limited",
			"error_description": "Too many attempts. Try again later.",
		})
		return false
	}
	return true
}

func (h *AuthHandler) callbackErrorRedirect(c *gin.Context, message string) {
	c.Redirect(http.StatusSeeOther, h.callbackPath+"?error="+url.QueryEscape(message))
}

func (h *AuthHandler) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
	case errors.Is(err, domain.ErrAuthRejected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": err.Error()})
	case errors.Is(err, domain.ErrVerificationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification_failed", "error_description": err.Error()})
	case errors.Is(err, domain.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "error_description": "Not authenticated."})
	case errors.Is(err, domain.ErrInvalidSession):
		h.Logger.Error("incomplete token pair offered for persistence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Missing session response."})
	default:
		h.Logger.Error("auth service failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}
