package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/proofmarked/stepup-gateway/internal/domain"
)

// HTTPClient is the default API implementation against a GoTrue-style
// identity provider.
type HTTPClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient constructs the default provider client. A nil http.Client
// gets a conservative timeout so a stalled provider fails the single request
// rather than pinning it forever.
func NewHTTPClient(baseURL, anonKey, serviceKey string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		serviceKey: serviceKey,
		httpClient: client,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Factors []struct {
		ID           string `json:"id"`
		FriendlyName string `json:"friendly_name"`
		FactorType   string `json:"factor_type"`
		Status       string `json:"status"`
	} `json:"factors"`
	AppMetadata struct {
		MFAEnforced bool `json:"mfa_enforced"`
	} `json:"app_metadata"`
	UserMetadata struct {
		MFAEnforced bool `json:"mfa_enforced"`
	} `json:"user_metadata"`
}

type apiError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e *apiError) Error() string {
	return e.reason()
}

func (e *apiError) reason() string {
	for _, s := range []string{e.Description, e.Msg, e.Message, e.Code} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fmt.Sprintf("status=%d", e.Status)
}

// SignIn performs the password grant.
func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (domain.TokenPair, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, "", body, &resp); err != nil {
		return domain.TokenPair{}, classify(err, domain.ErrAuthRejected)
	}
	return pairFrom(resp)
}

// Refresh performs the refresh-token grant. The returned pair supersedes the
// old one wholesale.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", c.anonKey, "", body, &resp); err != nil {
		return domain.TokenPair{}, classify(err, domain.ErrAuthRejected)
	}
	return pairFrom(resp)
}

// User loads the authenticated profile and factor list.
func (c *HTTPClient) User(ctx context.Context, accessToken string) (UserInfo, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/user", c.anonKey, accessToken, nil, &resp); err != nil {
		return UserInfo{}, classify(err, domain.ErrAuthRejected)
	}
	info := UserInfo{
		ID:          resp.ID,
		Email:       resp.Email,
		MFAEnforced: resp.AppMetadata.MFAEnforced || resp.UserMetadata.MFAEnforced,
	}
	for _, f := range resp.Factors {
		info.Factors = append(info.Factors, domain.Factor{
			ID:     f.ID,
			Type:   domain.FactorType(f.FactorType),
			Label:  f.FriendlyName,
			Status: domain.FactorStatus(f.Status),
		})
	}
	return info, nil
}

// UpdatePassword sets a new password on the authenticated user.
func (c *HTTPClient) UpdatePassword(ctx context.Context, accessToken, password string) error {
	body := map[string]string{"password": password}
	if err := c.do(ctx, http.MethodPut, "/user", c.anonKey, accessToken, body, nil); err != nil {
		return classify(err, domain.ErrAuthRejected)
	}
	return nil
}

// EnrollFactor creates a pending TOTP factor and returns its scannable payload.
func (c *HTTPClient) EnrollFactor(ctx context.Context, accessToken, label string) (domain.Enrollment, error) {
	body := map[string]string{"factor_type": string(domain.FactorTypeTOTP), "friendly_name": label}
	var resp struct {
		ID   string `json:"id"`
		TOTP struct {
			QRCode string `json:"qr_code"`
			Secret string `json:"secret"`
			URI    string `json:"uri"`
		} `json:"totp"`
	}
	if err := c.do(ctx, http.MethodPost, "/factors", c.anonKey, accessToken, body, &resp); err != nil {
		return domain.Enrollment{}, classify(err, domain.ErrAuthRejected)
	}
	return domain.Enrollment{
		FactorID:  resp.ID,
		Secret:    resp.TOTP.Secret,
		QRPayload: resp.TOTP.QRCode,
		URI:       resp.TOTP.URI,
	}, nil
}

// UnenrollFactor removes a factor by id.
func (c *HTTPClient) UnenrollFactor(ctx context.Context, accessToken, factorID string) error {
	if err := c.do(ctx, http.MethodDelete, "/factors/"+factorID, c.anonKey, accessToken, nil, nil); err != nil {
		return classify(err, domain.ErrAuthRejected)
	}
	return nil
}

// ChallengeFactor issues a fresh single-use challenge for the factor.
func (c *HTTPClient) ChallengeFactor(ctx context.Context, accessToken, factorID string) (domain.Challenge, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/factors/"+factorID+"/challenge", c.anonKey, accessToken, map[string]string{}, &resp); err != nil {
		return domain.Challenge{}, classify(err, domain.ErrAuthRejected)
	}
	return domain.Challenge{ID: resp.ID, FactorID: factorID, IssuedAt: time.Now().UTC()}, nil
}

// VerifyFactor redeems a code. Wrong, expired, and replayed challenges all
// come back as ErrVerificationFailed; the provider invalidates the challenge
// either way.
func (c *HTTPClient) VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (domain.TokenPair, error) {
	body := map[string]string{"challenge_id": challengeID, "code": code}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/factors/"+factorID+"/verify", c.anonKey, accessToken, body, &resp); err != nil {
		return domain.TokenPair{}, classify(err, domain.ErrVerificationFailed)
	}
	return pairFrom(resp)
}

// InviteUser sends an invitation through the admin surface. Requires the
// service-role key.
func (c *HTTPClient) InviteUser(ctx context.Context, email, redirectTo string) error {
	if strings.TrimSpace(c.serviceKey) == "" {
		return fmt.Errorf("%w: service role key not configured", domain.ErrTransientAuth)
	}
	body := map[string]any{
		"email": email,
		"data":  map[string]any{"mfa_enforced": true},
	}
	path := "/invite"
	if strings.TrimSpace(redirectTo) != "" {
		path += "?redirect_to=" + redirectTo
	}
	if err := c.do(ctx, http.MethodPost, path, c.serviceKey, c.serviceKey, body, nil); err != nil {
		return classify(err, domain.ErrAuthRejected)
	}
	return nil
}

// do performs one provider round-trip. Client-classified failures surface as
// *apiError; transport failures and 5xx responses are transient.
func (c *HTTPClient) do(ctx context.Context, method, path, apiKey, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientAuth, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrTransientAuth, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status=%d", domain.ErrTransientAuth, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrTransientAuth, err)
		}
	}
	return nil
}

// classify maps a provider refusal onto the given sentinel, keeping the
// IdP-stated reason. Transient and encoding failures pass through unchanged.
func classify(err error, sentinel error) error {
	if apiErr, ok := err.(*apiError); ok {
		return fmt.Errorf("%w: %s", sentinel, apiErr.reason())
	}
	return err
}

func pairFrom(resp tokenResponse) (domain.TokenPair, error) {
	pair := domain.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !pair.Complete() {
		return domain.TokenPair{}, fmt.Errorf("%w: provider returned an incomplete token pair", domain.ErrTransientAuth)
	}
	return pair, nil
}
