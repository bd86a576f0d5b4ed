package app_test

import (
	"context"
	"testing"

	"driverlink/internal/app"
	"driverlink/internal/domain"
)

func TestPreferences_Theme(t *testing.T) {
	store := newMockStore(nil)
	svc := app.NewPreferencesService(store)
	ctx := context.Background()

	theme, err := svc.Theme(ctx)
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if theme != app.ThemeLight {
		t.Errorf("expected default %q, got %q", app.ThemeLight, theme)
	}

	if err := svc.SetTheme(ctx, app.ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if got := store.value(domain.KeyAppTheme); got != app.ThemeDark {
		t.Errorf("expected stored %q, got %q", app.ThemeDark, got)
	}

	if err := svc.SetTheme(ctx, "neon"); err == nil {
		t.Error("expected validation error for unknown theme")
	}
}
