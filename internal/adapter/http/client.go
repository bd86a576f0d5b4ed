// Package adapthttp implements the backend REST adapter for the client core.
package adapthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driverlink/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxBodyBytes = 1 << 20

// Client talks to the marketplace REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

var _ domain.AuthAPI = (*Client)(nil)

// New creates a Client for baseURL (for example https://api.example.com/api).
// Every request is bounded by timeout.
func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: withLogging(http.DefaultTransport, log),
		},
		log: log,
	}
}

// Authorized returns an http.Client that sends the bearer token from src on
// every request, sharing this client's transport and timeout.
func (c *Client) Authorized(src oauth2.TokenSource) *http.Client {
	return &http.Client{
		Timeout: c.http.Timeout,
		Transport: &oauth2.Transport{
			Base:   c.http.Transport,
			Source: src,
		},
	}
}

func (c *Client) bearer(token string) *http.Client {
	return c.Authorized(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// Login posts credentials to /auth/login.
func (c *Client) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	env, err := c.do(ctx, c.http, http.MethodPost, "/auth/login", req)
	if err != nil {
		return nil, err
	}
	if err := env.requireSuccess(false); err != nil {
		return nil, err
	}
	return env.loginResponse()
}

// Register posts a registration to /auth/register.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResponse, error) {
	env, err := c.do(ctx, c.http, http.MethodPost, "/auth/register", req)
	if err != nil {
		return nil, err
	}
	if err := env.requireSuccess(false); err != nil {
		return nil, err
	}
	return &domain.RegisterResponse{Message: env.Message}, nil
}

// ValidateToken asks /auth/validate whether token is still accepted.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	env, err := c.do(ctx, c.bearer(token), http.MethodGet, "/auth/validate", nil)
	if err != nil {
		return err
	}
	return env.requireSuccess(true)
}

// FetchProfile loads /users/profile for the token's account.
func (c *Client) FetchProfile(ctx context.Context, token string) (domain.Profile, error) {
	env, err := c.do(ctx, c.bearer(token), http.MethodGet, "/users/profile", nil)
	if err != nil {
		return nil, err
	}
	if err := env.requireSuccess(true); err != nil {
		return nil, err
	}
	return env.profile()
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*envelope, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnreachable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrUnreachable, path, err)
	}
	return decodeEnvelope(resp.StatusCode, raw), nil
}
