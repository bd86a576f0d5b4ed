// Package app holds the application services of the driver client core.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"driverlink/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// User-facing failure messages.
const (
	MsgUnreachable     = "Cannot reach the server. Please check your connection and try again."
	MsgRoleMismatch    = "This account is not a driver account. Please sign in with the customer app."
	MsgMissingToken    = "Could not retrieve token information."
	MsgLoginFailed     = "Login failed. Please try again."
	MsgRegisterFailed  = "Registration failed. Please try again."
	MsgLoginSuperseded = "Login was cancelled."
	MsgStorageFailed   = "Could not save your session on this device."
)

// SessionService is the single source of truth for who is signed in.
//
// Every write goes storage first, then memory, under writeMu, so a reader of
// the store never sees "authenticated in memory, absent in storage".
type SessionService struct {
	store domain.CredentialStore
	api   domain.AuthAPI
	role  string
	log   *zap.Logger

	validations singleflight.Group

	writeMu sync.Mutex

	mu       sync.RWMutex
	state    domain.Session
	gen      uint64 // bumped by every logout and every committed session
	attempt  uint64 // latest login attempt
	restored bool
	loaded   chan struct{}
	subs     map[int]chan domain.Session
	nextSub  int
}

// NewSessionService creates a session service in the loading state.
func NewSessionService(store domain.CredentialStore, api domain.AuthAPI, role string, log *zap.Logger) *SessionService {
	if role == "" {
		role = domain.RoleDriver
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		store:  store,
		api:    api,
		role:   role,
		log:    log.Named("session"),
		state:  domain.Session{IsLoading: true},
		loaded: make(chan struct{}),
		subs:   make(map[int]chan domain.Session),
	}
}

// Snapshot returns the current session. The User map must be treated as read-only.
func (s *SessionService) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Loaded is closed once Restore has finished.
func (s *SessionService) Loaded() <-chan struct{} {
	return s.loaded
}

// Subscribe delivers session changes, starting with the current one. Only the
// latest state is buffered; a slow reader skips intermediate states.
func (s *SessionService) Subscribe() (<-chan domain.Session, func()) {
	ch := make(chan domain.Session, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// publishLocked must be called with s.mu held for writing.
func (s *SessionService) publishLocked() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.state:
		default:
		}
	}
}

// Restore loads the persisted session and validates it against the backend.
// It runs once; later calls return immediately.
func (s *SessionService) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return
	}
	s.restored = true
	gen := s.gen
	s.mu.Unlock()

	defer s.finishLoading()

	token := s.read(ctx, domain.KeyAuthToken)
	userID := s.read(ctx, domain.KeyUserID)
	if strings.TrimSpace(token) == "" || strings.TrimSpace(userID) == "" {
		s.log.Info("no stored session")
		return
	}

	profile, ok := s.validate(ctx, token)
	if !ok && ctx.Err() != nil {
		s.log.Info("restore cancelled, keeping stored session", zap.Error(ctx.Err()))
		return
	}
	if !ok {
		s.log.Info("stored session rejected, clearing", zap.String("user_id", userID))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.state = domain.Session{IsLoading: true}
			s.gen++
		}
		s.mu.Unlock()
		if current {
			s.clearStorage(ctx)
		}
		return
	}

	if profile == nil {
		profile = s.cachedProfile(ctx)
	}
	refresh := s.read(ctx, domain.KeyRefreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.log.Info("session changed during restore, discarding restored session")
		return
	}
	s.gen++
	s.state = domain.Session{
		Token:           token,
		UserID:          userID,
		RefreshToken:    refresh,
		User:            profile,
		IsAuthenticated: true,
		IsLoading:       true,
	}
	s.log.Info("session restored", zap.String("user_id", userID))
}

func (s *SessionService) finishLoading() {
	s.mu.Lock()
	s.state.IsLoading = false
	s.publishLocked()
	s.mu.Unlock()
	close(s.loaded)
}

// ValidateToken reports whether the backend accepts the token and can still
// load the profile behind it. It never fails loudly: every error is "invalid".
func (s *SessionService) ValidateToken(ctx context.Context, token string) bool {
	_, ok := s.validate(ctx, token)
	return ok
}

func (s *SessionService) validate(ctx context.Context, token string) (domain.Profile, bool) {
	if strings.TrimSpace(token) == "" {
		return nil, false
	}
	// The shared call outlives any single caller; each caller waits on its
	// own ctx instead.
	vctx := context.WithoutCancel(ctx)
	ch := s.validations.DoChan(token, func() (any, error) {
		if err := s.api.ValidateToken(vctx, token); err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		profile, err := s.api.FetchProfile(vctx, token)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		return profile, nil
	})
	select {
	case <-ctx.Done():
		s.log.Info("token validation abandoned", zap.Error(ctx.Err()))
		return nil, false
	case res := <-ch:
		if res.Err != nil {
			s.log.Info("token rejected", zap.Error(res.Err), zap.Bool("shared", res.Shared))
			return nil, false
		}
		profile, _ := res.Val.(domain.Profile)
		return profile, true
	}
}

// Login authenticates against the backend and, on success, persists and
// activates the session. Failures are returned as a Result, never as a panic
// or an error.
func (s *SessionService) Login(ctx context.Context, email, password string) domain.Result {
	s.mu.Lock()
	s.attempt++
	attempt, gen := s.attempt, s.gen
	s.mu.Unlock()

	resp, err := s.api.Login(ctx, domain.LoginRequest{
		Email:    email,
		Password: password,
		UserType: s.role,
	})
	if err != nil {
		s.log.Warn("login failed", zap.Error(err))
		return failure(err, MsgLoginFailed)
	}

	if resp.UserType != s.role {
		s.log.Warn("login with wrong account role", zap.String("user_type", resp.UserType))
		return domain.Result{
			Message: MsgRoleMismatch,
			Err:     fmt.Errorf("%w: %q", domain.ErrRoleMismatch, resp.UserType),
		}
	}
	if resp.Token == "" || resp.UserID == "" {
		s.log.Warn("login response without token information")
		return domain.Result{Message: MsgMissingToken, Err: domain.ErrMissingToken}
	}

	err = s.commit(ctx, credentials{
		token:   resp.Token,
		userID:  resp.UserID,
		refresh: resp.RefreshToken,
		user:    resp.User,
	}, func() bool { return s.attempt == attempt && s.gen == gen })
	switch {
	case errors.Is(err, domain.ErrLoginSuperseded):
		s.log.Info("discarding stale login result")
		return domain.Result{Message: MsgLoginSuperseded, Err: err}
	case err != nil:
		s.log.Error("persist session", zap.Error(err))
		return domain.Result{Message: MsgStorageFailed, Err: err}
	}

	s.log.Info("logged in", zap.String("user_id", resp.UserID))
	return domain.Result{Success: true, Message: resp.Message}
}

// Register submits a registration. It does not sign the user in.
func (s *SessionService) Register(ctx context.Context, req domain.RegisterRequest) domain.Result {
	req.UserType = s.role
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		s.log.Warn("register failed", zap.Error(err))
		return failure(err, MsgRegisterFailed)
	}
	return domain.Result{Success: true, Message: resp.Message}
}

// SetTokenAndUserID persists the pair and then marks the session authenticated.
// If persisting fails the in-memory session is left untouched.
func (s *SessionService) SetTokenAndUserID(ctx context.Context, token, userID string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(userID) == "" {
		return domain.ErrMissingCredentials
	}
	return s.commit(ctx, credentials{token: token, userID: userID}, nil)
}

type credentials struct {
	token   string
	userID  string
	refresh string
	user    domain.Profile
}

// commit writes c to the store and then to memory. stillCurrent, when set, is
// evaluated under s.mu before the store write and again before the memory write.
func (s *SessionService) commit(ctx context.Context, c credentials, stillCurrent func() bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if stillCurrent != nil {
		s.mu.RLock()
		ok := stillCurrent()
		s.mu.RUnlock()
		if !ok {
			return domain.ErrLoginSuperseded
		}
	}

	prior := s.storedSession(ctx)
	if err := s.store.Set(ctx, domain.KeyAuthToken, c.token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.store.Set(ctx, domain.KeyUserID, c.userID); err != nil {
		s.restoreStorage(ctx, prior)
		return fmt.Errorf("persist user id: %w", err)
	}
	if c.refresh != "" {
		if err := s.store.Set(ctx, domain.KeyRefreshToken, c.refresh); err != nil {
			s.log.Warn("persist refresh token", zap.Error(err))
		}
	}
	if c.user != nil {
		s.persistProfile(ctx, c.user)
	}

	s.mu.Lock()
	if stillCurrent != nil && !stillCurrent() {
		s.mu.Unlock()
		// Nothing newer can have reached the store while we hold writeMu, so
		// the snapshot still matches the live in-memory session.
		s.restoreStorage(ctx, prior)
		return domain.ErrLoginSuperseded
	}
	defer s.mu.Unlock()
	s.gen++
	s.state = domain.Session{
		Token:           c.token,
		UserID:          c.userID,
		RefreshToken:    c.refresh,
		User:            c.user,
		IsAuthenticated: true,
		IsLoading:       s.state.IsLoading,
	}
	s.publishLocked()
	return nil
}

// Logout clears the in-memory session, then removes the persisted keys on a
// best-effort basis. It always leaves the service unauthenticated.
func (s *SessionService) Logout(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = domain.Session{IsLoading: s.state.IsLoading}
	s.publishLocked()
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.gen == gen
	s.mu.RUnlock()
	if !current {
		// A newer session was committed meanwhile; its keys must stay.
		return
	}
	s.clearStorage(ctx)
	s.log.Info("logged out")
}

// RefreshProfile reloads the profile with the current token. A rejected token
// yields domain.ErrUnauthorized; the caller decides whether to log out.
func (s *SessionService) RefreshProfile(ctx context.Context) (domain.Profile, error) {
	snap := s.Snapshot()
	if !snap.IsAuthenticated {
		return nil, domain.ErrNotAuthenticated
	}

	profile, err := s.api.FetchProfile(ctx, snap.Token)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state.Token != snap.Token {
		s.mu.Unlock()
		return profile, nil
	}
	s.state.User = profile
	s.publishLocked()
	s.mu.Unlock()

	s.persistProfile(ctx, profile)
	return profile, nil
}

// Token implements oauth2.TokenSource with the current bearer token.
func (s *SessionService) Token() (*oauth2.Token, error) {
	snap := s.Snapshot()
	if !snap.IsAuthenticated {
		return nil, domain.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  snap.Token,
		TokenType:    "Bearer",
		RefreshToken: snap.RefreshToken,
	}, nil
}

var _ oauth2.TokenSource = (*SessionService)(nil)

func (s *SessionService) read(ctx context.Context, key string) string {
	v, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn("read credential", zap.String("key", key), zap.Error(err))
		return ""
	}
	return v
}

func (s *SessionService) cachedProfile(ctx context.Context) domain.Profile {
	raw := s.read(ctx, domain.KeyUserData)
	if raw == "" {
		return nil
	}
	var p domain.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("decode cached profile", zap.Error(err))
		return nil
	}
	return p
}

func (s *SessionService) persistProfile(ctx context.Context, p domain.Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		s.log.Warn("encode profile", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, domain.KeyUserData, string(data)); err != nil {
		s.log.Warn("persist profile", zap.Error(err))
	}
}

func (s *SessionService) clearStorage(ctx context.Context) {
	if err := s.store.Remove(ctx, domain.SessionKeys...); err != nil {
		s.log.Warn("clear stored session", zap.Error(err))
	}
}

// storedSession reads every session key. A key that cannot be read is
// recorded as absent.
func (s *SessionService) storedSession(ctx context.Context) map[string]string {
	prior := make(map[string]string, len(domain.SessionKeys))
	for _, key := range domain.SessionKeys {
		v, err := s.store.Get(ctx, key)
		if err != nil {
			s.log.Warn("snapshot stored session", zap.String("key", key), zap.Error(err))
			continue
		}
		if v != "" {
			prior[key] = v
		}
	}
	return prior
}

// restoreStorage puts the session keys back to prior: present keys are
// rewritten and absent ones removed.
func (s *SessionService) restoreStorage(ctx context.Context, prior map[string]string) {
	var absent []string
	for _, key := range domain.SessionKeys {
		v, ok := prior[key]
		if !ok {
			absent = append(absent, key)
			continue
		}
		if err := s.store.Set(ctx, key, v); err != nil {
			s.log.Warn("restore stored session", zap.String("key", key), zap.Error(err))
		}
	}
	if len(absent) == 0 {
		return
	}
	if err := s.store.Remove(ctx, absent...); err != nil {
		s.log.Warn("restore stored session", zap.Strings("keys", absent), zap.Error(err))
	}
}

func failure(err error, fallback string) domain.Result {
	msg := fallback
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrUnreachable):
		msg = MsgUnreachable
	case errors.Is(err, domain.ErrMissingToken):
		msg = MsgMissingToken
	case errors.As(err, &apiErr) && apiErr.Message != "":
		msg = apiErr.Message
	}
	return domain.Result{Message: msg, Err: err}
}
