package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"driverlink/internal/domain"

	"go.uber.org/zap"
)

// RealtimeService keeps the notification channel alive for the signed-in
// session. Reconnection is the transport's job; this service mirrors the
// transport's lifecycle into a ConnectionStatus and rejoins the user's room
// after every (re)connect.
type RealtimeService struct {
	dialer        domain.RealtimeDialer
	notifications *NotificationService
	log           *zap.Logger

	mu        sync.Mutex
	transport domain.RealtimeTransport
	token     string
	userID    string
	gen       uint64
	status    domain.ConnectionStatus
}

// NewRealtimeService creates a disconnected RealtimeService. notifications may be nil.
func NewRealtimeService(dialer domain.RealtimeDialer, notifications *NotificationService, log *zap.Logger) *RealtimeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RealtimeService{
		dialer:        dialer,
		notifications: notifications,
		log:           log.Named("realtime"),
		status:        domain.ConnectionStatus{State: domain.ConnDisconnected},
	}
}

// Status returns the current connection status.
func (s *RealtimeService) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect replaces any existing connection with one bound to token.
// A blank token is a no-op.
func (s *RealtimeService) Connect(token string) {
	if strings.TrimSpace(token) == "" {
		return
	}

	userID, err := UserIDFromToken(token)
	if err != nil {
		s.log.Warn("cannot read user id from token, room join skipped", zap.Error(err))
	}

	s.mu.Lock()
	old := s.transport
	s.transport = nil
	s.gen++
	gen := s.gen
	s.token = token
	s.userID = userID
	s.status = domain.ConnectionStatus{State: domain.ConnConnecting}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Debug("close previous transport", zap.Error(err))
		}
	}

	t, err := s.dialer.NewTransport(token, s.handlers(gen))
	if err != nil {
		s.log.Warn("create transport", zap.Error(err))
		s.mu.Lock()
		if s.gen == gen {
			s.status = domain.ConnectionStatus{State: domain.ConnDisconnected, Error: err.Error()}
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	s.transport = t
	s.mu.Unlock()

	t.Open()
}

// Disconnect closes the connection, if any, and resets the status.
// It is safe to call repeatedly.
func (s *RealtimeService) Disconnect() {
	s.mu.Lock()
	old := s.transport
	s.transport = nil
	s.gen++
	s.token = ""
	s.userID = ""
	s.status = domain.ConnectionStatus{State: domain.ConnDisconnected}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
	}
}

// Follow ties the connection to session updates until ctx ends: a new token
// reconnects, an absent token disconnects.
func (s *RealtimeService) Follow(ctx context.Context, sessions <-chan domain.Session) {
	defer s.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sessions:
			if !ok {
				return
			}
			s.apply(snap)
		}
	}
}

func (s *RealtimeService) apply(snap domain.Session) {
	token := ""
	if snap.IsAuthenticated {
		token = snap.Token
	}

	s.mu.Lock()
	current := s.token
	s.mu.Unlock()

	switch {
	case token == current:
	case token == "":
		s.Disconnect()
	default:
		s.Connect(token)
	}
}

// handlers builds transport callbacks bound to one connection generation so
// that late callbacks from a replaced transport are ignored.
func (s *RealtimeService) handlers(gen uint64) domain.RealtimeHandlers {
	return domain.RealtimeHandlers{
		OnConnect: func() {
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.status = domain.ConnectionStatus{State: domain.ConnConnected, Connected: true}
			t, userID := s.transport, s.userID
			s.mu.Unlock()

			s.log.Info("connected")
			if t == nil || userID == "" {
				return
			}
			if err := t.Emit(domain.EventJoin, userID); err != nil {
				s.log.Warn("join room", zap.Error(err))
			}
		},
		OnDisconnect: func(reason string) {
			s.update(gen, func(st *domain.ConnectionStatus) {
				st.State = domain.ConnDisconnected
				st.Connected = false
			})
			s.log.Info("disconnected", zap.String("reason", reason))
		},
		OnConnectError: func(err error) {
			s.update(gen, func(st *domain.ConnectionStatus) {
				st.State = domain.ConnDisconnected
				st.Connected = false
				st.Error = err.Error()
			})
			s.log.Warn("connect error", zap.Error(err))
		},
		OnReconnectAttempt: func(attempt int) {
			s.update(gen, func(st *domain.ConnectionStatus) {
				st.State = domain.ConnConnecting
				st.ReconnectAttempts = attempt
			})
			s.log.Debug("reconnecting", zap.Int("attempt", attempt))
		},
		OnReconnectFailed: func() {
			s.update(gen, func(st *domain.ConnectionStatus) {
				st.State = domain.ConnFailed
				st.Connected = false
			})
			s.log.Warn("reconnection gave up")
		},
		OnEvent: func(event string, payload json.RawMessage) {
			s.mu.Lock()
			stale := s.gen != gen
			s.mu.Unlock()
			if stale || event != domain.EventNotification || s.notifications == nil {
				return
			}
			if _, err := s.notifications.Receive(context.Background(), payload); err != nil {
				s.log.Warn("drop notification", zap.Error(err))
			}
		},
	}
}

func (s *RealtimeService) update(gen uint64, fn func(*domain.ConnectionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	fn(&s.status)
}
