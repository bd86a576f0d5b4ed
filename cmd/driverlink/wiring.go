package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	adapthttp "driverlink/internal/adapter/http"
	"driverlink/internal/adapter/filestore"
	"driverlink/internal/adapter/memory"
	"driverlink/internal/adapter/redisstore"
	"driverlink/internal/adapter/socketio"
	"driverlink/internal/adapter/sqlstore"
	"driverlink/internal/app"
	"driverlink/internal/config"
	"driverlink/internal/domain"

	"go.uber.org/zap"
)

// services is everything a command may need, built from cfg.
type services struct {
	api           *adapthttp.Client
	sessions      *app.SessionService
	notifications *app.NotificationService
	realtime      *app.RealtimeService
	prefs         *app.PreferencesService

	closers []io.Closer
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func buildServices(cfg *config.Config, log *zap.Logger) (*services, error) {
	store, inbox, closer, err := openStores(cfg.Store)
	if err != nil {
		return nil, err
	}
	s := &services{}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	s.api = adapthttp.New(cfg.API.BaseURL, cfg.GetAPITimeout(), log)
	s.sessions = app.NewSessionService(store, s.api, cfg.API.Role, log)
	s.notifications = app.NewNotificationService(inbox, log)
	s.prefs = app.NewPreferencesService(store)

	if cfg.Realtime.Enabled {
		dialer, err := socketio.NewDialer(cfg.API.BaseURL, socketio.Options{
			Timeout:              cfg.GetRealtimeTimeout(),
			Reconnection:         cfg.Realtime.ReconnectionAttempts > 0,
			ReconnectionAttempts: cfg.Realtime.ReconnectionAttempts,
			ReconnectionDelay:    cfg.GetReconnectionDelay(),
			ReconnectionDelayMax: cfg.GetReconnectionDelayMax(),
			RandomizationFactor:  socketio.DefaultOptions().RandomizationFactor,
		}, log)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.realtime = app.NewRealtimeService(dialer, s.notifications, log)
	}
	return s, nil
}

// openStores returns the credential store and the notification inbox.
// Key-value backends keep the inbox in memory.
func openStores(c config.StoreConfig) (domain.CredentialStore, domain.NotificationRepository, io.Closer, error) {
	switch c.Driver {
	case config.StoreMemory:
		db := memory.New()
		return db, db, nil, nil
	case config.StoreSQLite:
		if err := ensureDir(c.Path); err != nil {
			return nil, nil, nil, err
		}
		db, err := sqlstore.OpenSQLite(c.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		return db, db, db, nil
	case config.StorePostgres:
		db, err := sqlstore.OpenPostgres(c.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return db, db, db, nil
	case config.StoreRedis:
		rs, err := redisstore.Dial(c.RedisAddr, c.RedisPassword, c.RedisPrefix)
		if err != nil {
			return nil, nil, nil, err
		}
		return rs, memory.New(), rs, nil
	case config.StoreFile:
		file, err := filestore.Open(c.Path, c.Passphrase, filestore.DefaultKDF)
		if err != nil {
			return nil, nil, nil, err
		}
		return file, memory.New(), nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
