package main

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/google/uuid"
	"github.com/linht/adrv-manager/internal/config"
	"github.com/linht/adrv-manager/plugins"
	"golang.org/x/crypto/bcrypt"
)

// Configuration constants
const (
	// Server timeouts; init cals may run for a minute
	ServerReadTimeout  = 120 * time.Second
	ServerWriteTimeout = 120 * time.Second

	MaxBodySize = 4 * 1024 * 1024

	// Session management (24-hour expiry)
	SessionDuration = 24 * time.Hour
	TokenBytes      = 32

	RequestIDHeader = "X-Request-ID"
)

// Session represents a simple authenticated session for local use
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// sessions holds the single active session
type sessions struct {
	mu      sync.RWMutex
	current *Session
	now     func() time.Time
}

func (s *sessions) start() *Session {
	sess := &Session{
		Token:     generateToken(),
		ExpiresAt: s.now().Add(SessionDuration),
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return sess
}

func (s *sessions) end() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *sessions) valid(token string) bool {
	if token == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || s.current.Token != token {
		return false
	}
	return !s.now().After(s.current.ExpiresAt)
}

func generateToken() string {
	b := make([]byte, TokenBytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// server is the HTTP side of the service
type server struct {
	app      *fiber.App
	cfg      *config.Config
	sessions *sessions
	plugins  []plugins.Plugin
}

func newServer(cfg *config.Config) *server {
	s := &server{
		cfg:      cfg,
		sessions: &sessions{now: time.Now},
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:  ServerReadTimeout,
		WriteTimeout: ServerWriteTimeout,
		AppName:      "ADRV9001 Manager",
		BodyLimit:    MaxBodySize,
	})

	s.app.Use(requestID)
	s.app.Use(fiberLogger.New(fiberLogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency}) ${respHeader:X-Request-ID}\n",
	}))

	s.app.Static("/", "./web")

	// Login/logout endpoints (no auth required for login)
	s.app.Post("/login", s.handleLogin)
	s.app.Post("/logout", s.handleLogout)

	// Auth middleware for all other API routes
	s.app.Use("/api", s.authMiddleware)

	return s
}

// requestID tags every request and its response with an id, reusing the
// one the client sent.
func requestID(c *fiber.Ctx) error {
	id := c.Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.New().String()
	}
	c.Set(RequestIDHeader, id)
	c.Locals("request_id", id)
	return c.Next()
}

// loadPlugins instantiates the configured plugins and registers their routes.
func (s *server) loadPlugins(env *plugins.Env) error {
	for _, name := range s.cfg.Plugins {
		factory, exists := plugins.Get(name)
		if !exists {
			slog.Warn("Unknown plugin", "name", name)
			continue
		}

		plugin, err := factory(env)
		if err != nil {
			return err
		}

		plugin.RegisterRoutes(s.app)
		s.plugins = append(s.plugins, plugin)
		slog.Info("Plugin loaded", "name", plugin.Name())
	}
	return nil
}

func (s *server) shutdownPlugins() {
	for _, p := range s.plugins {
		if err := p.Shutdown(); err != nil {
			slog.Error("Plugin shutdown error", "name", p.Name(), "error", err)
		}
	}
}

func (s *server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Check password
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.PasswordHash), []byte(req.Password)); err != nil {
		slog.Warn("Failed login attempt", "ip", c.IP())
		return c.Status(401).JSON(fiber.Map{"error": "Invalid password"})
	}

	slog.Info("Successful login", "ip", c.IP())

	// New session replaces any existing one
	sess := s.sessions.start()

	return c.JSON(fiber.Map{
		"success": true,
		"token":   sess.Token,
		"expires": sess.ExpiresAt.Unix(),
	})
}

func (s *server) handleLogout(c *fiber.Ctx) error {
	s.sessions.end()
	slog.Info("User logged out", "ip", c.IP())
	return c.JSON(fiber.Map{"success": true})
}

func (s *server) authMiddleware(c *fiber.Ctx) error {
	// Header first, query parameter for websockets
	token := c.Get("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}

	if !s.sessions.valid(token) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.Next()
}
