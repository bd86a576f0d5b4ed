package memory

import (
	"context"
	"testing"
	"time"

	"driverlink/internal/domain"
)

func TestCredentialStore(t *testing.T) {
	db := New()
	ctx := context.Background()

	v, err := db.Get(ctx, domain.KeyAuthToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := db.Set(ctx, domain.KeyAuthToken, "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set(ctx, domain.KeyAppTheme, "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := db.Get(ctx, domain.KeyAuthToken); v != "tok" {
		t.Errorf("expected tok, got %q", v)
	}

	if err := db.Remove(ctx, domain.SessionKeys...); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v, _ := db.Get(ctx, domain.KeyAuthToken); v != "" {
		t.Errorf("expected token removed, got %q", v)
	}
	if v, _ := db.Get(ctx, domain.KeyAppTheme); v != "dark" {
		t.Errorf("expected theme kept, got %q", v)
	}
}

func TestNotificationRepository(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		err := db.AddNotification(ctx, domain.Notification{
			ID:         id,
			Title:      "job " + id,
			ReceivedAt: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddNotification: %v", err)
		}
	}

	items, err := db.ListRecentNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentNotifications: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "c" || items[1].ID != "b" {
		t.Errorf("expected newest first, got %s, %s", items[0].ID, items[1].ID)
	}

	if n, _ := db.UnreadNotificationCount(ctx); n != 3 {
		t.Errorf("expected 3 unread, got %d", n)
	}

	ok, err := db.MarkNotificationRead(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("MarkNotificationRead: ok=%v err=%v", ok, err)
	}
	if ok, _ := db.MarkNotificationRead(ctx, "missing"); ok {
		t.Error("expected false for unknown id")
	}
	if n, _ := db.UnreadNotificationCount(ctx); n != 2 {
		t.Errorf("expected 2 unread, got %d", n)
	}

	changed, _ := db.MarkAllNotificationsRead(ctx)
	if changed != 2 {
		t.Errorf("expected 2 changed, got %d", changed)
	}
	if n, _ := db.UnreadNotificationCount(ctx); n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}

	// same id replaces
	_ = db.AddNotification(ctx, domain.Notification{ID: "a", Title: "updated", ReceivedAt: now})
	all, _ := db.ListRecentNotifications(ctx, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 items after replace, got %d", len(all))
	}
}
