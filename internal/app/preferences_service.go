package app

import (
	"context"
	"fmt"

	"driverlink/internal/domain"
)

// Supported themes.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// PreferencesService stores device preferences next to the credentials.
type PreferencesService struct {
	store domain.CredentialStore
}

// NewPreferencesService creates a PreferencesService on the given store.
func NewPreferencesService(store domain.CredentialStore) *PreferencesService {
	return &PreferencesService{store: store}
}

// Theme returns the stored theme, or light when none was chosen.
func (s *PreferencesService) Theme(ctx context.Context) (string, error) {
	v, err := s.store.Get(ctx, domain.KeyAppTheme)
	if err != nil {
		return "", err
	}
	if v == "" {
		return ThemeLight, nil
	}
	return v, nil
}

// SetTheme validates and stores the theme.
func (s *PreferencesService) SetTheme(ctx context.Context, theme string) error {
	switch theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("theme must be one of %s, %s, %s", ThemeLight, ThemeDark, ThemeSystem)
	}
	return s.store.Set(ctx, domain.KeyAppTheme, theme)
}
