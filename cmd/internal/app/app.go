package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"log/slog"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
	authapi "github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/api"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/session"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/realtime"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/signup"
)

// App wires every component together and owns the HTTP server lifecycle.
type App struct {
	cfg Config
	log *slog.Logger

	pool *pgxpool.Pool
	auth *authapi.Handler
	gw   *realtime.WSGateway
	srv  *http.Server
}

// New assembles the server from cfg. It fails fast on policy violations,
// unreachable databases and missing key material.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app: connect database: %w", err)
		}
		pool = p
		log.Info("app.db.connected", "max_conns", cfg.DBMaxConns)
	} else {
		log.Warn("app.db.disabled", "reason", "HELPDESK_DATABASE_URL not set, using in-memory stores")
	}

	idStore, err := newIdentityStore(ctx, cfg, log, pool)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("app: session config: %w", err)
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, fmt.Errorf("app: access token manager: %w", err)
	}

	var sessStore session.Store
	if pool != nil {
		sessStore = session.NewPostgresStore(pool)
	} else {
		sessStore = session.NewMemoryStore()
	}
	sessions := session.NewService(sessCfg, sessStore, tokens)

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), idStore, sessions)
	if err != nil {
		return nil, fmt.Errorf("app: auth handler: %w", err)
	}

	var signupStore signup.Store
	if pool != nil {
		signupStore, err = signup.NewPostgresStore(pool)
		if err != nil {
			return nil, fmt.Errorf("app: signup store: %w", err)
		}
	} else {
		signupStore = signup.NewMemoryStore()
	}
	signups, err := signup.NewService(signupStore)
	if err != nil {
		return nil, fmt.Errorf("app: signup service: %w", err)
	}
	auth.EnableSignup(signups)

	gw, err := realtime.NewWSGateway(log, realtime.NewHub(log), sessions, nil)
	if err != nil {
		return nil, fmt.Errorf("app: ws gateway: %w", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, cfg, log, pool, auth, gw)

	var handler http.Handler = mux
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, cfg, log)
	handler = WithRequestLogging(handler, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	return &App{
		cfg:  cfg,
		log:  log,
		pool: pool,
		auth: auth,
		gw:   gw,
		srv:  srv,
	}, nil
}

func newIdentityStore(ctx context.Context, cfg Config, log *slog.Logger, pool *pgxpool.Pool) (identity.Store, error) {
	if pool != nil {
		st, err := identity.NewPostgresStore(pool)
		if err != nil {
			return nil, fmt.Errorf("app: identity store: %w", err)
		}
		return st, nil
	}

	st, err := identity.NewMemoryStore()
	if err != nil {
		return nil, fmt.Errorf("app: identity store: %w", err)
	}

	if cfg.DevAdminPassword != "" {
		_, err := st.CreateUser(ctx, identity.CreateUserInput{
			Username:    "admin",
			DisplayName: "Administrator",
			Password:    cfg.DevAdminPassword,
			Role:        identity.RoleAdmin,
			Department:  "ops",
			Now:         time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("app: seed dev admin: %w", err)
		}
		log.Warn("app.identity.dev_admin_seeded", "username", "admin")
	}

	return st, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("app.http.listen", "addr", a.cfg.HTTPAddr)
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("app.shutdown.begin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.srv.Shutdown(shutdownCtx)
	if a.pool != nil {
		a.pool.Close()
	}
	if err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}
	a.log.Info("app.shutdown.done")
	return nil
}
