package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Cognito InitiateAuth protocol constants.
const (
	cognitoTarget      = "AWSCognitoIdentityProviderService.InitiateAuth"
	cognitoContentType = "application/x-amz-json-1.1"

	flowPassword = "USER_PASSWORD_AUTH"
	flowRefresh  = "REFRESH_TOKEN_AUTH"

	// expiryBuffer renews tokens this long before they expire.
	expiryBuffer = 5 * time.Minute
)

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type authenticationResult struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
	TokenType    string `json:"TokenType"`
}

type initiateAuthResponse struct {
	AuthenticationResult *authenticationResult `json:"AuthenticationResult"`
	ChallengeName        string                `json:"ChallengeName"`
}

type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// session owns the Cognito tokens. The API authorises requests with the
// IdToken, so that is what the oauth2 token carries as its AccessToken.
type session struct {
	endpoint string
	clientID string
	username string
	password string
	http     *http.Client
	logger   Logger
	now      func() time.Time

	mu           sync.Mutex
	source       oauth2.TokenSource
	refreshToken string

	// ctx is the context of the token call in progress. Only set while mu
	// is held.
	ctx context.Context
}

func newSession(endpoint, clientID, username, password string, hc *http.Client, logger Logger, now func() time.Time) *session {
	s := &session{
		endpoint: endpoint,
		clientID: clientID,
		username: username,
		password: password,
		http:     hc,
		logger:   logger,
		now:      now,
	}
	s.resetLocked()
	return s
}

// token returns a valid IdToken, authenticating when the cached one is
// missing or within expiryBuffer of expiry.
func (s *session) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	defer func() { s.ctx = nil }()

	tok, err := s.source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// invalidate drops the cached token. The refresh token is kept so the next
// call tries REFRESH_TOKEN_AUTH first.
func (s *session) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *session) resetLocked() {
	s.source = oauth2.ReuseTokenSourceWithExpiry(nil, cognitoSource{s: s}, expiryBuffer)
}

// cognitoSource fetches new tokens. It runs inside session.token with the
// session lock held.
type cognitoSource struct {
	s *session
}

func (c cognitoSource) Token() (*oauth2.Token, error) {
	s := c.s
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if s.refreshToken != "" {
		tok, err := s.initiateAuth(ctx, flowRefresh, map[string]string{"REFRESH_TOKEN": s.refreshToken})
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrAuth) {
			return nil, err
		}
		s.logger.Info("cognito refresh token rejected, signing in with password")
		s.refreshToken = ""
	}

	return s.initiateAuth(ctx, flowPassword, map[string]string{
		"USERNAME": s.username,
		"PASSWORD": s.password,
	})
}

func (s *session) initiateAuth(ctx context.Context, flow string, params map[string]string) (*oauth2.Token, error) {
	payload, err := json.Marshal(initiateAuthRequest{
		AuthFlow:       flow,
		ClientID:       s.clientID,
		AuthParameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building auth request: %w", ErrAuth, err)
	}
	req.Header.Set("Content-Type", cognitoContentType)
	req.Header.Set("X-Amz-Target", cognitoTarget)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, "cognito", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, "cognito", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, cognitoStatusError(resp, body)
	}

	var out initiateAuthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding cognito response: %w", ErrTransient, err)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IDToken == "" {
		if out.ChallengeName != "" {
			return nil, fmt.Errorf("%w: unhandled cognito challenge %s", ErrAuth, out.ChallengeName)
		}
		return nil, fmt.Errorf("%w: no AuthenticationResult received", ErrAuth)
	}

	res := out.AuthenticationResult
	if res.RefreshToken != "" {
		s.refreshToken = res.RefreshToken
	}

	now := s.now()
	var expiry time.Time
	if res.ExpiresIn > 0 {
		expiry = now.Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	claims := parseIDToken(res.IDToken)
	if !claims.expiry.IsZero() && (expiry.IsZero() || claims.expiry.Before(expiry)) {
		expiry = claims.expiry
	}

	s.logger.Debug("cognito authentication successful",
		"flow", flow,
		"subject", claims.subject,
		"expires_at", expiry.Format(time.RFC3339),
	)

	return &oauth2.Token{
		AccessToken:  res.IDToken,
		TokenType:    res.TokenType,
		RefreshToken: s.refreshToken,
		Expiry:       expiry,
	}, nil
}

func cognitoStatusError(resp *http.Response, body []byte) error {
	var ce cognitoError
	_ = json.Unmarshal(body, &ce) //nolint:errcheck // best effort, the status decides

	switch ce.Type {
	case "NotAuthorizedException", "UserNotFoundException", "PasswordResetRequiredException", "UserNotConfirmedException":
		return fmt.Errorf("%w: %s: %s", ErrAuth, ce.Type, ce.Message)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: cognito status %d", ErrAuth, code)
	case isTransientStatus(code):
		return &transientError{status: code, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return fmt.Errorf("%w: cognito status %d: %s", ErrRejected, code, ce.Type)
	}
}

type idTokenClaims struct {
	expiry  time.Time
	subject string
}

// parseIDToken reads the exp and sub claims without verifying the
// signature. The token is only forwarded to the vendor, never trusted here.
func parseIDToken(raw string) idTokenClaims {
	var out idTokenClaims
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return out
	}
	if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiry = exp.Time
	}
	if sub, err := tok.Claims.GetSubject(); err == nil {
		out.subject = sub
	}
	return out
}
