// Package rowstore is a reference row-store: the passive HTTP backend the
// transport talks to. It keeps no merge logic of its own; every action is a
// plain read, overwrite or upsert of one collection.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pomosync/pomosync/internal/schema"
)

// Version is the schema version reported by get_version.
const (
	Version     = 3
	VersionName = "3.0 stats and archive"
)

// Store is the persistence the row-store needs. *db.DB implements it.
type Store interface {
	ListTasks(ctx context.Context) ([]schema.Task, error)
	ReplaceTasks(ctx context.Context, tasks []schema.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListCompleted(ctx context.Context, day string) ([]schema.CompletedTask, error)
	UpsertCompleted(ctx context.Context, tasks []schema.CompletedTask) error
	ListSessions(ctx context.Context, day string) ([]schema.WorkSession, error)
	UpsertSessions(ctx context.Context, sessions []schema.WorkSession) error
	ListArchived(ctx context.Context) ([]schema.ArchivedTask, error)
	UpsertArchived(ctx context.Context, tasks []schema.ArchivedTask) error
	CompleteTask(ctx context.Context, task schema.CompletedTask, session *schema.WorkSession) error
}

// Config holds server configuration.
type Config struct {
	// AllowOrigins is the CORS origin list for browser clients.
	AllowOrigins string

	// RequestLog enables per-request access logging.
	RequestLog bool

	Logger *log.Logger
}

// Server is the row-store HTTP application.
type Server struct {
	app    *fiber.App
	store  Store
	logger *log.Logger
}

// NewServer builds the fiber app and registers the routes.
func NewServer(store Store, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[rowstore] ", log.LstdFlags)
	}
	if cfg.AllowOrigins == "" {
		cfg.AllowOrigins = "*"
	}

	s := &Server{store: store, logger: cfg.Logger}

	s.app = fiber.New(fiber.Config{
		AppName:               "pomosync row-store",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		BodyLimit:             32 << 20,
	})

	s.app.Use(recover.New())
	if cfg.RequestLog {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
			Output: cfg.Logger.Writer(),
		}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/", s.handleStatus)
	s.app.Post("/", s.handleAction)

	return s
}

// App returns the underlying fiber app (for app.Test in tests).
func (s *Server) App() *fiber.App {
	return s.app
}

// Handler adapts the app to net/http.
func (s *Server) Handler() http.HandlerFunc {
	return adaptor.FiberApp(s.app)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Printf("Row-store listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown row-store: %w", err)
	}
	return nil
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus answers plain GETs the way the hosted script does, so a
// browser can check the endpoint is alive.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "Pomodoro row-store is running",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
