// Package httpapi exposes the session service over JSON/HTTP using gin.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/gin-gonic/gin"
)

// UserService is the part of services.UserService the handlers need.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	VerifyAccess(token string) (*auth.AccessClaims, error)
	Authorize(claims *auth.AccessClaims, roles ...models.Role) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// ListUsersRoles may read the account list.
var ListUsersRoles = []models.Role{models.RoleManager, models.RoleAdmin}

const shutdownTimeout = 10 * time.Second

type Server struct {
	address        string
	users          UserService
	logger         logging.Logger
	requestTimeout time.Duration
	ping           func(context.Context) error
	engine         *gin.Engine
}

// Option customises a Server.
type Option func(*Server)

// WithRequestTimeout bounds every request. Zero disables the deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithHealthCheck makes /health report the result of ping.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

func NewServer(address string, l logging.Logger, us UserService, opts ...Option) *Server {
	s := &Server{
		address: address,
		users:   us,
		logger:  l.With("module", "http_server"),
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestID, s.requestLogger, gin.CustomRecovery(s.recovery), s.deadline)
	r.NoRoute(func(c *gin.Context) { writeMessage(c, http.StatusNotFound, "Not Found") })

	api := r.Group("/api")
	api.GET("/health", s.health)

	a := api.Group("/auth")
	a.POST("/register", s.register)
	a.POST("/login", s.login)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.authenticate(), s.logout)

	api.GET("/users", s.authenticate(ListUsersRoles...), s.listUsers)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error(ctx, "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
