package app_test

import (
	"context"
	"errors"
	"sync"

	"driverlink/internal/domain"
)

// mockStore is a map-backed CredentialStore whose operations can be overridden.
type mockStore struct {
	mu     sync.Mutex
	data   map[string]string
	writes int

	getFn    func(ctx context.Context, key string) (string, error)
	setFn    func(ctx context.Context, key, value string) error
	removeFn func(ctx context.Context, keys ...string) error
}

func newMockStore(seed map[string]string) *mockStore {
	m := &mockStore{data: make(map[string]string)}
	for k, v := range seed {
		m.data[k] = v
	}
	return m
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *mockStore) Set(ctx context.Context, key, value string) error {
	if m.setFn != nil {
		if err := m.setFn(ctx, key, value); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.data[key] = value
	return nil
}

func (m *mockStore) Remove(ctx context.Context, keys ...string) error {
	if m.removeFn != nil {
		if err := m.removeFn(ctx, keys...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockStore) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

func (m *mockStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type mockAuthAPI struct {
	mu    sync.Mutex
	calls map[string]int

	loginFn    func(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error)
	registerFn func(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResponse, error)
	validateFn func(ctx context.Context, token string) error
	profileFn  func(ctx context.Context, token string) (domain.Profile, error)
}

func (m *mockAuthAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *mockAuthAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockAuthAPI) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockAuthAPI) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	m.record("login")
	if m.loginFn != nil {
		return m.loginFn(ctx, req)
	}
	return nil, errors.New("login not stubbed")
}

func (m *mockAuthAPI) Register(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResponse, error) {
	m.record("register")
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return &domain.RegisterResponse{}, nil
}

func (m *mockAuthAPI) ValidateToken(ctx context.Context, token string) error {
	m.record("validate")
	if m.validateFn != nil {
		return m.validateFn(ctx, token)
	}
	return nil
}

func (m *mockAuthAPI) FetchProfile(ctx context.Context, token string) (domain.Profile, error) {
	m.record("profile")
	if m.profileFn != nil {
		return m.profileFn(ctx, token)
	}
	return domain.Profile{"name": "Test"}, nil
}
