package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"driverlink/internal/domain"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	email            string
	password         string
	name             string
	surname          string
	phone            string
	selectedServices []string
	notifLimit       int
)

func init() {
	loginCmd.Flags().StringVar(&email, "email", "", "account email")
	loginCmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")

	registerCmd.Flags().StringVar(&email, "email", "", "account email")
	registerCmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	registerCmd.Flags().StringVar(&name, "name", "", "first name")
	registerCmd.Flags().StringVar(&surname, "surname", "", "last name")
	registerCmd.Flags().StringVar(&phone, "phone", "", "phone number")
	registerCmd.Flags().StringSliceVar(&selectedServices, "service", nil, "offered service (repeatable)")

	notificationsCmd.Flags().IntVar(&notifLimit, "limit", 20, "how many to list")
	notificationsCmd.AddCommand(notificationsReadCmd)
	themeCmd.AddCommand(themeSetCmd)
}

// withServices builds the services for one command and tears them down after.
func withServices(fn func(ctx context.Context, s *services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := buildServices(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("close stores", zap.Error(err))
			}
		}()
		return fn(cmd.Context(), s)
	}
}

func prompt(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func credentials() (string, string, error) {
	var err error
	if email == "" {
		if email, err = prompt("Email"); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = prompt("Password"); err != nil {
			return "", "", err
		}
	}
	if email == "" || password == "" {
		return "", "", errors.New("email and password are required")
	}
	return email, password, nil
}

func resultErr(r domain.Result) error {
	if r.Success {
		return nil
	}
	return errors.New(r.Message)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: withServices(func(ctx context.Context, s *services) error {
		e, p, err := credentials()
		if err != nil {
			return err
		}
		r := s.sessions.Login(ctx, e, p)
		if err := resultErr(r); err != nil {
			return err
		}
		snap := s.sessions.Snapshot()
		fmt.Printf("signed in as user %s\n", snap.UserID)
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a driver account",
	RunE: withServices(func(ctx context.Context, s *services) error {
		e, p, err := credentials()
		if err != nil {
			return err
		}
		r := s.sessions.Register(ctx, domain.RegisterRequest{
			Email:            e,
			Password:         p,
			Name:             name,
			Surname:          surname,
			Phone:            phone,
			SelectedServices: selectedServices,
		})
		if err := resultErr(r); err != nil {
			return err
		}
		msg := r.Message
		if msg == "" {
			msg = "registered; sign in with `driverlink login`"
		}
		fmt.Println(msg)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: withServices(func(ctx context.Context, s *services) error {
		s.sessions.Logout(ctx)
		fmt.Println("signed out")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Restore and validate the stored session",
	RunE: withServices(func(ctx context.Context, s *services) error {
		s.sessions.Restore(ctx)
		snap := s.sessions.Snapshot()
		out := struct {
			Authenticated bool           `json:"authenticated"`
			UserID        string         `json:"userId,omitempty"`
			User          domain.Profile `json:"user,omitempty"`
		}{snap.IsAuthenticated, snap.UserID, snap.User}
		return printJSON(out)
	}),
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Fetch the signed-in driver's profile",
	RunE: withServices(func(ctx context.Context, s *services) error {
		s.sessions.Restore(ctx)
		p, err := s.sessions.RefreshProfile(ctx)
		if errors.Is(err, domain.ErrUnauthorized) {
			s.sessions.Logout(ctx)
			return errors.New("session expired; sign in again")
		}
		if err != nil {
			return err
		}
		return printJSON(p)
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "GET an API path with the session's bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, s *services) error {
			s.sessions.Restore(ctx)
			hc := s.api.Authorized(s.sessions)

			url := strings.TrimRight(cfg.API.BaseURL, "/") + "/" + strings.TrimLeft(args[0], "/")
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := hc.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("%s", resp.Status)
			}
			return nil
		})(cmd, args)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay connected and print pushed notifications",
	RunE: withServices(func(ctx context.Context, s *services) error {
		if s.realtime == nil {
			return errors.New("realtime is disabled in config")
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		s.sessions.Restore(ctx)
		if !s.sessions.Snapshot().IsAuthenticated {
			return errors.New("not signed in; run `driverlink login` first")
		}

		s.notifications.OnNotification(func(n domain.Notification) {
			fmt.Printf("%s  %-12s %s %s\n", n.ReceivedAt.Local().Format(time.Kitchen), n.Type, n.Title, n.Message)
		})

		updates, cancel := s.sessions.Subscribe()
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			s.realtime.Follow(ctx, updates)
			return nil
		})
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					st := s.realtime.Status()
					logger.Debug("connection", zap.String("state", string(st.State)), zap.Int("attempts", st.ReconnectAttempts))
					if st.State == domain.ConnFailed {
						return fmt.Errorf("realtime connection failed: %s", st.Error)
					}
				}
			}
		})
		return g.Wait()
	}),
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List received notifications",
	RunE: withServices(func(ctx context.Context, s *services) error {
		list, err := s.notifications.ListRecent(ctx, notifLimit)
		if err != nil {
			return err
		}
		unread, err := s.notifications.UnreadCount(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, n := range list {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, n.ID, n.ReceivedAt.Local().Format(time.DateTime), n.Title, n.Message)
		}
		_ = w.Flush()
		fmt.Printf("%d unread\n", unread)
		return nil
	}),
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark one notification, or all of them, read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, s *services) error {
			if len(args) == 0 {
				n, err := s.notifications.MarkAllRead(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d read\n", n)
				return nil
			}
			ok, err := s.notifications.MarkRead(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no notification %q", args[0])
			}
			return nil
		})(cmd, args)
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Show the app theme",
	RunE: withServices(func(ctx context.Context, s *services) error {
		t, err := s.prefs.Theme(ctx)
		if err != nil {
			return err
		}
		fmt.Println(t)
		return nil
	}),
}

var themeSetCmd = &cobra.Command{
	Use:       "set <light|dark|system>",
	Short:     "Change the app theme",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"light", "dark", "system"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, s *services) error {
			return s.prefs.SetTheme(ctx, args[0])
		})(cmd, args)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
