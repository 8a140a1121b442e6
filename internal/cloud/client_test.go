package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
)

const (
	testUser     = "user@example.com"
	testPassword = "secret"
	testThing    = "Daikin_4c50dd423066"
	testID       = "daikin_4c50dd423066"
)

// fakeCloud serves both the Cognito endpoint and the vendor API.
type fakeCloud struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	expiresIn      int
	passwordAuths  int
	refreshAuths   int
	rejectRefresh  bool
	tokenSeq       int
	validToken     string
	revoked        map[string]bool
	alwaysDeny     bool
	failures       []int // statuses returned by the next API calls, in order
	retryAfter     string
	wrapRead       bool
	commandReply   string
	airconds       []map[string]any
	shadows        map[string]map[string]any
	listCalls      int
	readCalls      int
	commandCalls   int
	lastDesired    map[string]any
	lastReadParams map[string]any
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{
		t:         t,
		expiresIn: 3600,
		revoked:   make(map[string]bool),
		shadows:   make(map[string]map[string]any),
	}
	f.addUnit("Living Room", testThing, baseShadow())
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func baseShadow() map[string]any {
	return map[string]any{
		"Bar_CoolM":      0,
		"Bar_DryM":       0,
		"Bar_FanM":       0,
		"Bar_Swing":      0,
		"Ena_UDStep":     1,
		"Ena_LRSwing":    1,
		"Ena_LRStep":     1,
		"Ena_Ecoplus":    1,
		"Ena_Breeze":     1,
		"Ena_Turbo":      1,
		"Ena_Silent":     1,
		"Ena_LEDOff":     1,
		"Inf_ODPwrCon":   1,
		"Set_OnOff":      1,
		"Set_Mode":       1,
		"Set_Temp":       22,
		"Set_Fan":        4,
		"Set_UDLvr":      15,
		"Set_LRLvr":      3,
		"Set_Turbo":      0,
		"Set_Breeze":     0,
		"Set_Ecoplus":    1,
		"Set_Sleep":      0,
		"Set_LEDOff":     0,
		"Sta_IDRoomTemp": 27,
		"Sta_ODAirTemp":  31,
		"Sta_ODPwrCon":   450,
		"eventType":      "connected",
		"key":            "k-123",
		"version":        "2.1.0",
	}
}

func (f *fakeCloud) addUnit(name, thingName string, shadow map[string]any) {
	f.airconds = append(f.airconds, map[string]any{
		"ACName":      name,
		"ThingName":   thingName,
		"shadowState": shadow,
	})
	f.shadows[thingName] = shadow
}

func (f *fakeCloud) client(opts ...Option) *Client {
	base := []Option{
		WithAuthURL(f.srv.URL + "/cognito/"),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
		WithRetryMaxElapsed(time.Second),
	}
	return New(config.VendorConfig{
		Username:       testUser,
		Password:       testPassword,
		BaseURL:        f.srv.URL + "/prod",
		RequestTimeout: 5,
	}, append(base, opts...)...)
}

func (f *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/cognito/" {
		f.handleAuth(w, r)
		return
	}
	f.handleAPI(w, r)
}

func (f *fakeCloud) handleAuth(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Amz-Target") != cognitoTarget {
		f.t.Errorf("X-Amz-Target = %q", r.Header.Get("X-Amz-Target"))
	}
	if ct := r.Header.Get("Content-Type"); ct != cognitoContentType {
		f.t.Errorf("Content-Type = %q", ct)
	}

	var req initiateAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decoding auth request: %v", err)
	}

	notAuthorized := func() {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"__type":"NotAuthorizedException","message":"Incorrect username or password."}`)
	}

	refresh := ""
	switch req.AuthFlow {
	case flowPassword:
		if req.AuthParameters["USERNAME"] != testUser || req.AuthParameters["PASSWORD"] != testPassword {
			notAuthorized()
			return
		}
		f.passwordAuths++
		refresh = "refresh-token"
	case flowRefresh:
		f.refreshAuths++
		if f.rejectRefresh || req.AuthParameters["REFRESH_TOKEN"] != "refresh-token" {
			notAuthorized()
			return
		}
	default:
		f.t.Errorf("unexpected AuthFlow %q", req.AuthFlow)
	}

	f.tokenSeq++
	f.validToken = "id-token-" + strconv.Itoa(f.tokenSeq)
	res := map[string]any{
		"AccessToken": "access",
		"IdToken":     f.validToken,
		"ExpiresIn":   f.expiresIn,
		"TokenType":   "Bearer",
	}
	if refresh != "" {
		res["RefreshToken"] = refresh
	}
	json.NewEncoder(w).Encode(map[string]any{"AuthenticationResult": res}) //nolint:errcheck
}

func (f *fakeCloud) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body struct {
		RequestData map[string]any `json:"requestData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("decoding API request: %v", err)
	}
	endpoint := strings.TrimPrefix(r.URL.Path, "/prod/")
	reqType, _ := body.RequestData["type"].(float64) //nolint:errcheck

	switch {
	case endpoint == endpointListing:
		f.listCalls++
	case endpoint == endpointDevice && reqType == requestTypeCommand:
		f.commandCalls++
	case endpoint == endpointDevice:
		f.readCalls++
	default:
		http.NotFound(w, r)
		return
	}

	token := r.Header.Get("Authorization")
	if f.alwaysDeny || token != f.validToken || f.revoked[token] {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthorized"}`)
		return
	}

	if len(f.failures) > 0 {
		status := f.failures[0]
		f.failures = f.failures[1:]
		if status == http.StatusTooManyRequests && f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, `{"message":"failure"}`)
		return
	}

	switch {
	case endpoint == endpointListing:
		json.NewEncoder(w).Encode(map[string]any{"data": f.airconds}) //nolint:errcheck
	case reqType == requestTypeCommand:
		payload, _ := body.RequestData["payload"].(map[string]any) //nolint:errcheck
		state, _ := payload["state"].(map[string]any)              //nolint:errcheck
		f.lastDesired, _ = state["desired"].(map[string]any)       //nolint:errcheck
		if f.commandReply != "" {
			fmt.Fprint(w, f.commandReply)
			return
		}
		fmt.Fprint(w, `{"message":"success"}`)
	default:
		f.lastReadParams = body.RequestData
		thingName, _ := body.RequestData["thingName"].(string) //nolint:errcheck
		shadow, ok := f.shadows[thingName]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if f.wrapRead {
			json.NewEncoder(w).Encode(map[string]any{"data": shadow}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(shadow) //nolint:errcheck
	}
}

func (f *fakeCloud) counts() (password, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwordAuths, f.refreshAuths
}

func listed(t *testing.T, c *Client) []device.Device {
	t.Helper()
	devices, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	return devices
}

func TestAuthenticate(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	// Cached token is reused.
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}

	password, refresh := f.counts()
	if password != 1 || refresh != 0 {
		t.Errorf("auth calls = %d password, %d refresh; want 1, 0", password, refresh)
	}
}

func TestAuthenticateBadCredentials(t *testing.T) {
	f := newFakeCloud(t)
	c := New(config.VendorConfig{
		Username: testUser,
		Password: "wrong",
		BaseURL:  f.srv.URL + "/prod/",
	}, WithAuthURL(f.srv.URL+"/cognito/"))

	err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Authenticate() error = %v, want ErrAuth", err)
	}
}

func TestAuthenticateRefreshFlow(t *testing.T) {
	f := newFakeCloud(t)
	// Shorter than the expiry buffer, so every call renews.
	f.expiresIn = 60
	c := f.client()

	for i := 0; i < 3; i++ {
		if err := c.Authenticate(context.Background()); err != nil {
			t.Fatalf("Authenticate() #%d error = %v", i, err)
		}
	}

	password, refresh := f.counts()
	if password != 1 || refresh != 2 {
		t.Errorf("auth calls = %d password, %d refresh; want 1, 2", password, refresh)
	}
}

func TestAuthenticateRefreshRejectedFallsBackToPassword(t *testing.T) {
	f := newFakeCloud(t)
	f.expiresIn = 60
	f.rejectRefresh = true
	c := f.client()

	for i := 0; i < 2; i++ {
		if err := c.Authenticate(context.Background()); err != nil {
			t.Fatalf("Authenticate() #%d error = %v", i, err)
		}
	}

	password, refresh := f.counts()
	if password != 2 || refresh != 1 {
		t.Errorf("auth calls = %d password, %d refresh; want 2, 1", password, refresh)
	}
}

func TestListDevices(t *testing.T) {
	f := newFakeCloud(t)
	shadow := baseShadow()
	shadow["Bar_DryM"] = 1
	shadow["Ena_LEDOff"] = 0
	shadow["Inf_ODPwrCon"] = 0
	f.addUnit("", "Daikin_000000000002", shadow)
	c := f.client()

	devices := listed(t, c)
	if len(devices) != 2 {
		t.Fatalf("ListDevices() returned %d devices, want 2", len(devices))
	}

	living := devices[0]
	if living.ID != testID {
		t.Errorf("ID = %q, want %q", living.ID, testID)
	}
	if living.Name != "Living Room" || living.ObjectID != "living_room_ac" {
		t.Errorf("Name/ObjectID = %q/%q", living.Name, living.ObjectID)
	}
	if living.MAC != "4c:50:dd:42:30:66" {
		t.Errorf("MAC = %q", living.MAC)
	}
	if living.Firmware != "2.1.0" || living.Model != device.DefaultModel {
		t.Errorf("Firmware/Model = %q/%q", living.Firmware, living.Model)
	}
	if len(living.Capabilities) != len(device.AllCapabilities()) {
		t.Errorf("capabilities = %v, want all", living.Capabilities.List())
	}

	second := devices[1]
	if second.Name != "Daikin_000000000002" {
		t.Errorf("unnamed unit Name = %q, want ThingName", second.Name)
	}
	for _, capability := range []device.Capability{device.CapDry, device.CapLED, device.CapPowerSensor, device.CapEnergySensor} {
		if second.Capabilities.Has(capability) {
			t.Errorf("second unit has %s", capability)
		}
	}
}

func TestReadState(t *testing.T) {
	for _, wrap := range []bool{false, true} {
		t.Run(fmt.Sprintf("wrapped=%v", wrap), func(t *testing.T) {
			f := newFakeCloud(t)
			f.wrapRead = wrap
			c := f.client()
			listed(t, c)

			state, err := c.ReadState(context.Background(), testID)
			if err != nil {
				t.Fatalf("ReadState() error = %v", err)
			}

			want := device.State{
				device.AttrMode:                device.ModeCool,
				device.AttrTemperature:         22.0,
				device.AttrCurrentTemperature:  27.0,
				device.AttrOutdoorTemperature:  31.0,
				device.AttrFanMode:             device.FanMedium,
				device.AttrSwingMode:           device.SwingAuto,
				device.AttrSwingHorizontalMode: "Step_3",
				device.AttrPresetMode:          device.PresetEco,
				device.AttrPower:               450.0,
				device.AttrStatusLED:           true,
				device.AttrAvailability:        device.AvailabilityOnline,
			}
			if len(state) != len(want) {
				t.Errorf("state = %v, want %v", state, want)
			}
			for attr, v := range want {
				if state[attr] != v {
					t.Errorf("state[%s] = %v, want %v", attr, state[attr], v)
				}
			}

			f.mu.Lock()
			params := f.lastReadParams
			f.mu.Unlock()
			if params["thingName"] != testThing || params["key"] != "k-123" || params["username"] != testUser {
				t.Errorf("read params = %v", params)
			}
		})
	}
}

func TestReadStateUnknownDevice(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()

	_, err := c.ReadState(context.Background(), testID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadState() before listing error = %v, want ErrNotFound", err)
	}
	if f.readCalls != 0 {
		t.Errorf("read calls = %d, want 0", f.readCalls)
	}
}

func TestSendCommand(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	if err := c.SendCommand(context.Background(), testID, device.AttrTemperature, 24.0); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandCalls != 1 {
		t.Errorf("command calls = %d, want 1", f.commandCalls)
	}
	if len(f.lastDesired) != 1 || f.lastDesired["Set_Temp"] != 24.0 {
		t.Errorf("desired = %v, want Set_Temp=24", f.lastDesired)
	}
}

func TestSendCommandErrorBody(t *testing.T) {
	f := newFakeCloud(t)
	f.commandReply = `{"errorMessage":"Task timed out"}`
	c := f.client()
	listed(t, c)

	err := c.SendCommand(context.Background(), testID, device.AttrMode, device.ModeDry)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("SendCommand() error = %v, want ErrRejected", err)
	}
}

func TestSendCommandNotRetried(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	f.mu.Lock()
	f.failures = []int{http.StatusServiceUnavailable}
	f.mu.Unlock()

	err := c.SendCommand(context.Background(), testID, device.AttrMode, device.ModeOff)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("SendCommand() error = %v, want ErrTransient", err)
	}
	if f.commandCalls != 1 {
		t.Errorf("command calls = %d, want exactly 1", f.commandCalls)
	}
}

func TestReauthenticatesOnceOnUnauthorized(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	f.mu.Lock()
	f.revoked[f.validToken] = true
	f.mu.Unlock()

	if _, err := c.ReadState(context.Background(), testID); err != nil {
		t.Fatalf("ReadState() after revoked token error = %v", err)
	}

	password, refresh := f.counts()
	if password != 1 || refresh != 1 {
		t.Errorf("auth calls = %d password, %d refresh; want 1, 1", password, refresh)
	}
	if f.readCalls != 2 {
		t.Errorf("read calls = %d, want 2 (rejected + replay)", f.readCalls)
	}
}

func TestPersistentUnauthorizedIsAuthError(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	f.mu.Lock()
	f.alwaysDeny = true
	f.mu.Unlock()

	_, err := c.ReadState(context.Background(), testID)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("ReadState() error = %v, want ErrAuth", err)
	}

	password, refresh := f.counts()
	if password+refresh != 2 {
		t.Errorf("auth calls = %d, want 2 (initial + one re-auth)", password+refresh)
	}
	if f.readCalls != 2 {
		t.Errorf("read calls = %d, want 2", f.readCalls)
	}
}

func TestStatusClasses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusConflict, ErrRejected},
		{http.StatusRequestTimeout, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			f := newFakeCloud(t)
			c := f.client(WithRetryMaxElapsed(20 * time.Millisecond))
			listed(t, c)

			f.mu.Lock()
			for i := 0; i < 1000; i++ {
				f.failures = append(f.failures, tt.status)
			}
			f.mu.Unlock()

			_, err := c.ReadState(context.Background(), testID)
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadState() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransientReadRetried(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	f.mu.Lock()
	f.failures = []int{http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	f.mu.Unlock()

	if _, err := c.ReadState(context.Background(), testID); err != nil {
		t.Fatalf("ReadState() error = %v", err)
	}
	if f.readCalls != 3 {
		t.Errorf("read calls = %d, want 3", f.readCalls)
	}
}

func TestRateLimitedListingRetried(t *testing.T) {
	f := newFakeCloud(t)
	f.failures = []int{http.StatusTooManyRequests}
	f.retryAfter = "0"
	c := f.client()

	if devices := listed(t, c); len(devices) != 1 {
		t.Fatalf("ListDevices() returned %d devices", len(devices))
	}
	if f.listCalls != 2 {
		t.Errorf("list calls = %d, want 2", f.listCalls)
	}
}

func TestCancelledReadIsTransient(t *testing.T) {
	f := newFakeCloud(t)
	c := f.client()
	listed(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ReadState(ctx, testID)
	if !errors.Is(err, ErrTransient) || !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadState() error = %v, want ErrTransient wrapping context.Canceled", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"5", 5},
		{" 12 ", 12},
		{"-3", -1},
		{"soon", -1},
		{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBodyError(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"ok"}`, ""},
		{`{"errorMessage":"boom"}`, "boom"},
		{`{"error":"bad key"}`, "bad key"},
		{`{"error":null}`, ""},
		{`{"error":false}`, ""},
		{`{"error":true}`, "true"},
		{`[1,2]`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := bodyError([]byte(tt.body)); got != tt.want {
			t.Errorf("bodyError(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestParseIDToken(t *testing.T) {
	// Unsigned JWT with sub "abc" and exp 2000000000.
	raw := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJhYmMiLCJleHAiOjIwMDAwMDAwMDB9."
	claims := parseIDToken(raw)
	if claims.subject != "abc" {
		t.Errorf("subject = %q, want abc", claims.subject)
	}
	if !claims.expiry.Equal(time.Unix(2000000000, 0)) {
		t.Errorf("expiry = %v", claims.expiry)
	}

	if got := parseIDToken("not-a-jwt"); !got.expiry.IsZero() || got.subject != "" {
		t.Errorf("parseIDToken(garbage) = %+v, want zero", got)
	}
}
