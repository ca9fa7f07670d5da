package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	authapi "storefront/cmd/internal/auth/api"
	"storefront/cmd/internal/auth/expiry"
	"storefront/cmd/internal/realtime"
	v1 "storefront/contracts/realtime/v1"
)

// Run is the storefront session agent: it resumes or establishes a session,
// keeps the notification channel open and prints what arrives until signaled.
func Run(args []string) error {
	fs := flag.NewFlagSet("storefront", flag.ContinueOnError)
	var (
		email       = fs.String("email", "", "sign in with this email when no session is stored")
		password    = fs.String("password", os.Getenv("STOREFRONT_PASSWORD"), "password for -email")
		code        = fs.String("code", "", "verification code, when the backend asks for one")
		stay        = fs.Bool("stay", false, "stay signed in (30 day inactivity window)")
		logout      = fs.Bool("logout", false, "sign out and exit")
		metricsAddr = fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Dispose() }()

	if *logout {
		return c.Logout(ctx)
	}

	expired := make(chan expiry.Event, 1)
	c.OnSessionExpired(func(ev expiry.Event) { expired <- ev })
	c.OnConnectionChange(func(s realtime.State) { log.Info("realtime.state", "state", s.String()) })

	if err := c.Initialize(ctx); err != nil {
		return err
	}

	if c.Session(ctx).Empty() {
		if *email == "" {
			return errors.New("no stored session; pass -email and -password")
		}
		if err := signIn(ctx, c, *email, *password, *code, *stay); err != nil {
			return err
		}
	}

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(c.Metrics(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics.listen.fail", "addr", *metricsAddr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.RealtimeURL != "" {
		if err := c.Subscribe(func(n v1.NotificationPayload) {
			fmt.Printf("%s [%s] %s\n", n.ID, n.Type, n.Message)
		}); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		log.Info("agent.stop", "reason", "signal")
		return nil
	case ev := <-expired:
		return fmt.Errorf("session expired: %s", ev.Reason)
	}
}

func signIn(ctx context.Context, c *Client, email, password, code string, stay bool) error {
	res, err := c.Login(ctx, authapi.LoginRequest{Email: email, Password: password, StaySignedIn: stay})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !res.RequiresVerification {
		return nil
	}
	if code == "" {
		return fmt.Errorf("verification required: %s (rerun with -code)", res.Message)
	}
	if _, err := c.VerifyCode(ctx, authapi.VerifyRequest{Email: email, Password: password, Code: code, StaySignedIn: stay}); err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	return nil
}
