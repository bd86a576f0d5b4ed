package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"driverlink/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationService keeps the inbox behind the notification badge.
type NotificationService struct {
	repo domain.NotificationRepository
	log  *zap.Logger

	mu        sync.RWMutex
	listeners []func(domain.Notification)
}

// NewNotificationService creates a NotificationService backed by the given repository.
func NewNotificationService(repo domain.NotificationRepository, log *zap.Logger) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{repo: repo, log: log.Named("notifications")}
}

// OnNotification registers a listener called for every received notification.
func (s *NotificationService) OnNotification(fn func(domain.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Receive decodes a pushed payload and stores it.
func (s *NotificationService) Receive(ctx context.Context, payload json.RawMessage) (domain.Notification, error) {
	n, err := decodeNotification(payload)
	if err != nil {
		return domain.Notification{}, err
	}
	n.ReceivedAt = time.Now().UTC()
	if err := s.repo.AddNotification(ctx, n); err != nil {
		return domain.Notification{}, err
	}

	s.mu.RLock()
	listeners := append([]func(domain.Notification){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(n)
	}
	return n, nil
}

// ListRecent returns the most recent notifications up to limit.
func (s *NotificationService) ListRecent(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListRecentNotifications(ctx, limit)
}

// UnreadCount is the badge value.
func (s *NotificationService) UnreadCount(ctx context.Context) (int, error) {
	return s.repo.UnreadNotificationCount(ctx)
}

// MarkRead marks one notification read. It reports whether it existed.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (bool, error) {
	return s.repo.MarkNotificationRead(ctx, id)
}

// MarkAllRead clears the badge and returns how many notifications changed.
func (s *NotificationService) MarkAllRead(ctx context.Context) (int, error) {
	return s.repo.MarkAllNotificationsRead(ctx)
}

// decodeNotification accepts an object payload or a bare string message.
func decodeNotification(payload json.RawMessage) (domain.Notification, error) {
	var msg string
	if err := json.Unmarshal(payload, &msg); err == nil {
		return domain.Notification{ID: uuid.NewString(), Message: msg}, nil
	}

	var body struct {
		ID      string         `json:"id"`
		MongoID string         `json:"_id"`
		Type    string         `json:"type"`
		Title   string         `json:"title"`
		Message string         `json:"message"`
		Body    string         `json:"body"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}

	n := domain.Notification{
		ID:      body.ID,
		Type:    body.Type,
		Title:   body.Title,
		Message: body.Message,
		Data:    body.Data,
	}
	if n.ID == "" {
		n.ID = body.MongoID
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Message == "" {
		n.Message = body.Body
	}
	return n, nil
}
