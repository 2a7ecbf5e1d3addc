package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default settings for cloud requests.
const (
	defaultTimeout    = 15 * time.Second
	tokenExpiryMargin = time.Minute
	maxResponseSize   = 4 << 20
	userAgent         = "smartwater-core"
)

// Client is the contract of the Smart Water cloud used by the fetch layer.
//
// Payloads are returned as decoded JSON objects. Gateway and device reads
// return the objects keyed by their id.
type Client interface {
	// Login opens a session. It is a no-op while the session is valid.
	Login(ctx context.Context) error

	// Logout closes the session. The local session is dropped even when
	// the request fails.
	Logout(ctx context.Context) error

	FetchProfile(ctx context.Context, profileID string) (map[string]any, error)
	FetchGateways(ctx context.Context, profileID string) (map[string]map[string]any, error)
	FetchDevices(ctx context.Context, gatewayID string) (map[string]map[string]any, error)

	// ProfileID returns the default profile of the account, known after login.
	ProfileID() string

	// UserID returns the account id, known after login.
	UserID() string

	// Username returns the login name.
	Username() string
}

// Logger defines the logging interface used by the cloud package.
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

// session is the state returned by a successful login.
type session struct {
	token     string
	expires   time.Time
	userID    string
	profileID string
}

// HTTPClient implements Client against the Smart Water REST API.
//
// Thread Safety: All methods are safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     Logger
	now        func() time.Time

	mu      sync.RWMutex
	session session
}

// NewHTTPClient creates a client for one account.
//
// Parameters:
//   - baseURL: Cloud API root, e.g. https://api.smartwater.com.au
//   - username, password: Account credentials
//   - timeout: Per-request timeout; zero selects the default
//
// Returns:
//   - *HTTPClient: Client without a session; call Login before reading
func NewHTTPClient(baseURL, username, password string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the client.
func (c *HTTPClient) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Username returns the login name.
func (c *HTTPClient) Username() string { return c.username }

// UserID returns the account id of the current or last session.
func (c *HTTPClient) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.userID
}

// ProfileID returns the default profile of the current or last session.
func (c *HTTPClient) ProfileID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.profileID
}

// loginResponse is the body of POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	ProfileID   string `json:"profile_id"`
}

// Login opens a session unless the current token is still valid.
func (c *HTTPClient) Login(ctx context.Context) error {
	if c.sessionValid() {
		return nil
	}

	body := map[string]string{"username": c.username, "password": c.password}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("login: %w: empty access token", ErrAuth)
	}

	s := session{
		token:     resp.AccessToken,
		expires:   tokenExpiry(resp.AccessToken),
		userID:    resp.UserID,
		profileID: resp.ProfileID,
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.logger.Debug("cloud login", "username", c.username, "user_id", s.userID, "expires", s.expires)
	return nil
}

// Logout closes the session.
func (c *HTTPClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.session.token
	c.session.token = ""
	c.session.expires = time.Time{}
	c.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// FetchProfile returns the profile object.
func (c *HTTPClient) FetchProfile(ctx context.Context, profileID string) (map[string]any, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	var profile map[string]any
	if err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(profileID), token, nil, &profile); err != nil {
		return nil, fmt.Errorf("fetching profile %s: %w", profileID, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("fetching profile %s: %w", profileID, ErrNoProfile)
	}
	return profile, nil
}

// FetchGateways returns the gateways of a profile keyed by id.
func (c *HTTPClient) FetchGateways(ctx context.Context, profileID string) (map[string]map[string]any, error) {
	items, err := c.fetchList(ctx, "/profiles/"+url.PathEscape(profileID)+"/gateways")
	if err != nil {
		return nil, fmt.Errorf("fetching gateways of %s: %w", profileID, err)
	}
	return items, nil
}

// FetchDevices returns the devices of a gateway keyed by id.
func (c *HTTPClient) FetchDevices(ctx context.Context, gatewayID string) (map[string]map[string]any, error) {
	items, err := c.fetchList(ctx, "/gateways/"+url.PathEscape(gatewayID)+"/devices")
	if err != nil {
		return nil, fmt.Errorf("fetching devices of %s: %w", gatewayID, err)
	}
	return items, nil
}

// fetchList reads a JSON array of objects and keys it by the "id" field.
// Objects without an id are skipped.
func (c *HTTPClient) fetchList(ctx context.Context, path string) (map[string]map[string]any, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := c.do(ctx, http.MethodGet, path, token, nil, &list); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(list))
	for _, item := range list {
		id, ok := item["id"].(string)
		if !ok || id == "" {
			c.logger.Debug("skipping cloud object without id", "path", path)
			continue
		}
		out[id] = item
	}
	return out, nil
}

// sessionValid reports whether the token can be used for another request.
// A token without an exp claim is valid until the server rejects it.
func (c *HTTPClient) sessionValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.token == "" {
		return false
	}
	if c.session.expires.IsZero() {
		return true
	}
	return c.now().Add(tokenExpiryMargin).Before(c.session.expires)
}

func (c *HTTPClient) token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.token == "" {
		return "", ErrNotLoggedIn
	}
	return c.session.token, nil
}

// dropSession forgets a token the server rejected.
func (c *HTTPClient) dropSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.token == token {
		c.session.token = ""
		c.session.expires = time.Time{}
	}
}

// do performs one request and decodes the JSON response into out.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrConnect, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		if errors.Is(err, ErrAuth) && token != "" {
			c.dropSession(token)
		}
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrResponse, path, err)
	}
	return nil
}

// classifyStatus maps an HTTP status to the package sentinels.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrConnect, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrResponse, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens and tokens without exp yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
