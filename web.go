package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"imagecrop/crop"
)

// loadTimeout bounds how long opening a session waits for its image.
const loadTimeout = 10 * time.Second

type Config struct {
	RootDir          string
	StaticDir        string
	CropSize         float64
	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnSave           func(ops Operations)
}

type WebApp struct {
	config       Config
	sessions     *SessionStore
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.CropSize <= 0 {
		config.CropSize = crop.DefaultSize
	}
	return &WebApp{
		config:     config,
		sessions:   NewSessionStore(config.RootDir, config.CropSize),
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newRouter(ctx)
	defer a.sessions.CloseAll()

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	// Let the OS assign a random available port
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", 0))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Use the listener that was already created
	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *WebApp) newRouter(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(ctx).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(a.config.RootDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}

		for i := range dir.Files {
			dir.Files[i].URL = "/api/view?file=" + url.QueryEscape(dir.Files[i].Name)
		}

		var response struct {
			Name     string     `json:"name"`
			CropSize float64    `json:"crop_size"`
			Files    []FileInfo `json:"files"`
		}
		response.Name = dir.Name
		response.CropSize = a.config.CropSize
		response.Files = dir.Files

		return c.JSON(response)
	})

	webapp.Post("/api/sessions", func(c *fiber.Ctx) error {
		var request OpenRequest
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if request.Container.Width <= 0 || request.Container.Height <= 0 {
			return fiber.NewError(http.StatusBadRequest, "container size is required")
		}

		sess, err := a.sessions.Open(ctx, request)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		waitCtx, cancel := context.WithTimeout(ctx, loadTimeout)
		defer cancel()
		if err := sess.Wait(waitCtx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("session", sess.ID).Msg("image still loading")
		}

		return c.Status(http.StatusCreated).JSON(sess.State())
	})

	webapp.Get("/api/sessions/:id", func(c *fiber.Ctx) error {
		sess, err := a.session(c)
		if err != nil {
			return err
		}
		return c.JSON(sess.State())
	})

	webapp.Post("/api/sessions/:id/events", func(c *fiber.Ctx) error {
		sess, err := a.session(c)
		if err != nil {
			return err
		}
		var request struct {
			Events []eventMessage `json:"events"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(sess.Apply(toEvents(request.Events)))
	})

	webapp.Delete("/api/sessions/:id", func(c *fiber.Ctx) error {
		if !a.sessions.Close(c.Params("id")) {
			return fiber.NewError(http.StatusNotFound, "session not found")
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/save", func(c *fiber.Ctx) error {
		var request struct {
			Operations []Operation `json:"operations"`
		}

		if err := c.BodyParser(&request); err != nil {
			return err
		}
		if err := a.resolveSessions(request.Operations); err != nil {
			return err
		}

		a.config.OnSave(request.Operations)

		return c.SendStatus(http.StatusNoContent)
	})
	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if a.config.StaticDir != "" {
		log.Ctx(ctx).Debug().Str("dir", a.config.StaticDir).Msg("Serving static files")
		webapp.Static("/", a.config.StaticDir)
	}

	return webapp
}

func (a *WebApp) session(c *fiber.Ctx) (*Session, error) {
	sess, ok := a.sessions.Get(c.Params("id"))
	if !ok {
		return nil, fiber.NewError(http.StatusNotFound, "session not found")
	}
	return sess, nil
}

// resolveSessions fills in the crop of every crop operation that refers to a
// session instead of carrying one.
func (a *WebApp) resolveSessions(ops []Operation) error {
	for _, op := range ops {
		if op.Crop == nil || op.Crop.Session == "" || !op.Crop.Crop.IsZero() {
			continue
		}
		sess, ok := a.sessions.Get(op.Crop.Session)
		if !ok {
			return fiber.NewError(http.StatusNotFound, fmt.Sprintf("session %s not found", op.Crop.Session))
		}
		c, err := sess.Crop()
		if err != nil {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		op.Crop.Crop = c
		if op.Crop.Filename == "" {
			op.Crop.Filename = sess.Filename
		}
	}
	return nil
}
