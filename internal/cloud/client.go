package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
)

// Vendor defaults.
const (
	DefaultBaseURL  = "https://c7zkf7l933.execute-api.ap-southeast-1.amazonaws.com/prod/"
	DefaultRegion   = "ap-southeast-1"
	DefaultClientID = "36f6piu770fotfscvhi3jb1vb7"

	defaultRequestTimeout  = 15 * time.Second
	defaultRetryMaxElapsed = 30 * time.Second
	maxResponseBytes       = 4 << 20
)

// API endpoints and request types.
const (
	endpointListing = "gethomepageinfowithsubscription"
	endpointDevice  = "publishdevicestate"

	requestTypeRead    = 1
	requestTypeCommand = 3
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// thing is the vendor addressing of one unit, taken from the last listing.
type thing struct {
	name         string
	key          string
	capabilities device.CapabilitySet
}

// Client talks to the GO DAIKIN cloud API. It is safe for concurrent use.
type Client struct {
	username string
	password string
	baseURL  string
	authURL  string
	clientID string

	httpClient      *http.Client
	logger          Logger
	now             func() time.Time
	retryMaxElapsed time.Duration
	newBackOff      func() backoff.BackOff

	session *session

	mu     sync.RWMutex
	things map[string]thing
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout bounds every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthURL overrides the Cognito endpoint.
func WithAuthURL(u string) Option {
	return func(c *Client) { c.authURL = u }
}

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetryMaxElapsed caps the total time spent retrying one read or
// listing. The bridge sets it to the refresh interval.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.retryMaxElapsed = d }
}

// WithBackOff sets the retry policy factory. A fresh policy is created for
// every call.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

// WithNow sets the clock used for token expiry.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client for the account in cfg. No network call is made
// until the first request or Authenticate.
func New(cfg config.VendorConfig, opts ...Option) *Client {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}

	c := &Client{
		username:        cfg.Username,
		password:        cfg.Password,
		baseURL:         cfg.BaseURL,
		authURL:         cfg.AuthURL,
		clientID:        cfg.ClientID,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          noopLogger{},
		now:             time.Now,
		retryMaxElapsed: defaultRetryMaxElapsed,
		newBackOff:      func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		things:          make(map[string]thing),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}
	if c.clientID == "" {
		c.clientID = DefaultClientID
	}
	if c.authURL == "" {
		region := cfg.Region
		if region == "" {
			region = DefaultRegion
		}
		c.authURL = "https://cognito-idp." + region + ".amazonaws.com/"
	}

	c.session = newSession(c.authURL, c.clientID, c.username, c.password, c.httpClient, c.logger, c.now)
	return c
}

// Authenticate makes sure a valid session exists, signing in if needed.
// Errors wrap ErrAuth or ErrTransient.
func (c *Client) Authenticate(ctx context.Context) error {
	if _, err := c.session.token(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

// aircond is one entry of the listing response.
type aircond struct {
	ACName      string `json:"ACName"`
	ACGroup     string `json:"ACGroup"`
	ThingName   string `json:"ThingName"`
	ThingType   string `json:"ThingType"`
	IP          string `json:"IP"`
	ShadowState Shadow `json:"shadowState"`
}

func (a aircond) device() device.Device {
	name := a.ACName
	if name == "" {
		name = a.ThingName
	}
	return device.Device{
		ID:           strings.ToLower(a.ThingName),
		Name:         name,
		ObjectID:     device.ObjectIDFor(name),
		MAC:          device.MACFromThingName(a.ThingName),
		Model:        device.DefaultModel,
		Manufacturer: device.DefaultManufacturer,
		Firmware:     a.ShadowState.Version,
		Capabilities: a.ShadowState.Capabilities(),
	}
}

// ListDevices returns every unit on the account and remembers how to
// address each one for ReadState and SendCommand.
func (c *Client) ListDevices(ctx context.Context) ([]device.Device, error) {
	raw, err := c.call(ctx, endpointListing, map[string]any{
		"requestData": map[string]any{
			"type":  requestTypeRead,
			"value": c.username,
		},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	var resp struct {
		Data []aircond `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding listing: %w", ErrTransient, err)
	}

	things := make(map[string]thing, len(resp.Data))
	devices := make([]device.Device, 0, len(resp.Data))
	for _, a := range resp.Data {
		if a.ThingName == "" {
			c.logger.Warn("listing entry without ThingName skipped", "name", a.ACName)
			continue
		}
		dev := a.device()
		if _, dup := things[dev.ID]; dup {
			c.logger.Warn("duplicate unit in listing skipped", "device_id", dev.ID)
			continue
		}
		things[dev.ID] = thing{
			name:         a.ThingName,
			key:          a.ShadowState.Key,
			capabilities: dev.Capabilities,
		}
		devices = append(devices, dev)
	}

	c.mu.Lock()
	c.things = things
	c.mu.Unlock()

	return devices, nil
}

// ReadState reads the unit's shadow and projects it onto the attributes its
// capability set allows. The id must come from the last listing.
func (c *Client) ReadState(ctx context.Context, id string) (device.State, error) {
	t, err := c.lookup(id)
	if err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, endpointDevice, map[string]any{
		"requestData": map[string]any{
			"type":      requestTypeRead,
			"username":  c.username,
			"thingName": t.name,
			"key":       t.key,
		},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	shadow, err := decodeShadow(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding shadow of %s: %w", ErrTransient, id, err)
	}
	return shadow.State(t.capabilities), nil
}

// SendCommand posts the desired-state fields for one attribute. It is sent
// exactly once; a nil error is the vendor's acknowledgement.
func (c *Client) SendCommand(ctx context.Context, id string, attr device.Attribute, value any) error {
	t, err := c.lookup(id)
	if err != nil {
		return err
	}

	desired, err := DesiredFor(attr, value)
	if err != nil {
		return err
	}

	_, err = c.call(ctx, endpointDevice, map[string]any{
		"requestData": map[string]any{
			"type":      requestTypeCommand,
			"username":  c.username,
			"thingName": t.name,
			"key":       t.key,
			"payload": map[string]any{
				"state": map[string]any{"desired": desired},
			},
		},
	}, false)
	if err != nil {
		return fmt.Errorf("commanding %s %s: %w", id, attr, err)
	}

	c.logger.Debug("command acknowledged", "device_id", id, "attribute", string(attr), "desired", desired)
	return nil
}

func (c *Client) lookup(id string) (thing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.things[id]
	if !ok {
		return thing{}, fmt.Errorf("%w: %s is not in the last listing", ErrNotFound, id)
	}
	return t, nil
}

// call posts body to endpoint. With retry set, transient failures are
// retried with backoff until retryMaxElapsed; a Retry-After header sets the
// next delay.
func (c *Client) call(ctx context.Context, endpoint string, body any, retry bool) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	if !retry {
		return c.postAuthorized(ctx, endpoint, payload)
	}

	var lastErr error
	op := func() (json.RawMessage, error) {
		raw, err := c.postAuthorized(ctx, endpoint, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return nil, backoff.Permanent(err)
		}
		var te *transientError
		if errors.As(err, &te) && te.retryAfter >= 0 {
			return nil, backoff.RetryAfter(te.retryAfter)
		}
		return nil, err
	}

	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(c.retryMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("vendor request failed, retrying",
				"endpoint", endpoint,
				"error", err,
				"retry_in", next.String(),
			)
		}),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) && lastErr != nil {
			err = lastErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTransient) {
			err = fmt.Errorf("%w: %w", ErrTransient, ctxErr)
		}
		return nil, err
	}
	return raw, nil
}

// postAuthorized sends one request with the session token. A 401/403
// re-authenticates once and replays; a second one is ErrAuth.
func (c *Client) postAuthorized(ctx context.Context, endpoint string, payload []byte) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.session.token(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := c.post(ctx, endpoint, payload, token)
		if !errors.Is(err, errUnauthorized) {
			return raw, err
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: %s still unauthorized after re-authentication", ErrAuth, endpoint)
		}

		c.logger.Info("vendor rejected session token, re-authenticating", "endpoint", endpoint)
		c.session.invalidate()
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, endpoint, err)
	}

	if err := statusError(resp, body); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	if msg := bodyError(body); msg != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, endpoint, msg)
	}
	return body, nil
}

// transientError is an HTTP status in the transient class. retryAfter is
// the server-requested delay in seconds, or -1.
type transientError struct {
	status     int
	retryAfter int
}

func (e *transientError) Error() string {
	if e.retryAfter >= 0 {
		return fmt.Sprintf("%v: status %d, retry after %ds", ErrTransient, e.status, e.retryAfter)
	}
	return fmt.Sprintf("%v: status %d", ErrTransient, e.status)
}

func (e *transientError) Unwrap() error { return ErrTransient }

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func statusError(resp *http.Response, body []byte) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", errUnauthorized, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	case isTransientStatus(code):
		return &transientError{status: code, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, snippet(body))
	}
}

func transportError(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransient, what, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, what, err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. It returns -1 when
// the header is absent or unparseable.
func parseRetryAfter(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return -1
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return -1
		}
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		secs := int(time.Until(t).Seconds())
		if secs < 0 {
			return 0
		}
		return secs
	}
	return -1
}

// bodyError returns the vendor's error message from a 2xx body, if any.
// The API reports some failures as {"errorMessage": ...} or {"error": ...}
// with status 200.
func bodyError(body []byte) string {
	var fields struct {
		ErrorMessage string          `json:"errorMessage"`
		Error        json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	if fields.ErrorMessage != "" {
		return fields.ErrorMessage
	}

	switch raw := string(bytes.TrimSpace(fields.Error)); raw {
	case "", "null", "false", `""`, "0", "{}":
		return ""
	default:
		var msg string
		if err := json.Unmarshal(fields.Error, &msg); err == nil {
			return msg
		}
		return raw
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// decodeShadow accepts a bare shadow or one wrapped in "data".
func decodeShadow(raw []byte) (Shadow, error) {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 && wrapped.Data[0] == '{' {
		raw = wrapped.Data
	}

	var s Shadow
	if err := json.Unmarshal(raw, &s); err != nil {
		return Shadow{}, err
	}
	return s, nil
}
