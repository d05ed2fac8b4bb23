package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/livecache/src/cache"
	"github.com/orchestra-mcp/livecache/src/project"
	"github.com/orchestra-mcp/livecache/src/realtime"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/rs/zerolog"
)

// ConnectionSource exposes the shared realtime connection, if any.
type ConnectionSource interface {
	Current() *realtime.Connection
}

// Server is a read-only HTTP view of the connection and the caches.
type Server struct {
	app      *fiber.App
	conns    ConnectionSource
	projects *project.Repository
	logger   zerolog.Logger
}

// New builds the server and registers its routes.
func New(conns ConnectionSource, projects *project.Repository, logger zerolog.Logger) *Server {
	s := &Server{
		app:      fiber.New(fiber.Config{AppName: "livecache"}),
		conns:    conns,
		projects: projects,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	s.RegisterRoutes(s.app)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// RegisterRoutes registers the inspection routes on group.
func (s *Server) RegisterRoutes(group fiber.Router) {
	group.Get("/info", s.handleInfo)
	group.Get("/cache/entries", s.handleEntries)
	group.Get("/cache/projects", s.handleProjects)
	group.Get("/cache/projects/:id", s.handleProject)
}

func (s *Server) connectionInfo() types.ConnectionInfo {
	var conn *realtime.Connection
	if s.conns != nil {
		conn = s.conns.Current()
	}
	if conn == nil {
		return types.ConnectionInfo{State: realtime.StateUninitialized.String(), Topics: map[string]int{}}
	}
	return conn.Info()
}

func (s *Server) entries() []cache.EntryInfo {
	if s.projects == nil {
		return nil
	}
	return s.projects.Store().Entries()
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	info := s.connectionInfo()
	return c.JSON(fiber.Map{
		"connection": info,
		"connected":  info.State == realtime.StateConnected.String(),
		"entries":    len(s.entries()),
	})
}

func (s *Server) handleEntries(c fiber.Ctx) error {
	entries := s.entries()
	if entries == nil {
		entries = []cache.EntryInfo{}
	}
	return c.JSON(entries)
}

func (s *Server) handleProjects(c fiber.Ctx) error {
	if s.projects == nil {
		return notCached(c)
	}
	items, ok := s.projects.CachedProjects()
	if !ok {
		return notCached(c)
	}
	return c.JSON(items)
}

func (s *Server) handleProject(c fiber.Ctx) error {
	if s.projects == nil {
		return notCached(c)
	}
	p, ok := s.projects.CachedProject(c.Params("id"))
	if !ok {
		return notCached(c)
	}
	return c.JSON(p)
}

func notCached(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "not_cached",
		"message": "nothing cached under this path",
	})
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	s.logger.Info().Str("addr", addr).Msg("inspection server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := s.app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}
