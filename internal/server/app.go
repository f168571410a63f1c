// Package server wires configuration, storage, the session service and the
// HTTP API together and runs them until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/httpapi"
	"github.com/dmitrijs2005/gophauth/internal/server/password"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	userService *services.UserService
	httpServer  *httpapi.Server
}

// NewApp connects to the database, applies migrations and builds the
// service graph. The caller owns the returned App and must Run it.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	if logging.ParseLevel(c.LogLevel) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := OpenDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	us, err := NewUserService(db, rm, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	hs := httpapi.NewServer(c.EndpointAddrHTTP, logger, us,
		httpapi.WithRequestTimeout(c.RequestTimeout),
		httpapi.WithHealthCheck(db.PingContext),
	)

	return &App{config: c, logger: logger, db: db, userService: us, httpServer: hs}, nil
}

// OpenDatabase opens a pgx-backed *sql.DB and checks it is reachable.
func OpenDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return db, nil
}

// NewUserService builds the token codec and password hasher from c and
// returns the session service over db.
func NewUserService(db *sql.DB, rm repomanager.RepositoryManager, c *config.Config) (*services.UserService, error) {
	codec, err := auth.NewTokenCodec(
		[]byte(c.AccessTokenSecret), []byte(c.RefreshTokenSecret),
		c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	hasher, err := password.NewArgon2(password.DefaultParams())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	return services.NewUserService(db, rm, codec, hasher), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP and sweeps expired refresh records until ctx is cancelled
// or a termination signal arrives, then closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	if app.config.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSweeper(ctx, app.userService, app.config.CleanupInterval, app.logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			runErr = err
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")

	return runErr
}
