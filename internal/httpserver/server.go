package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/config"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/interview"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/speech"
)

// Server exposes the kiosk API: session lifecycle over REST and the live
// interview stream over a per-session WebSocket.
type Server struct {
	cfg   config.Config
	svc   dialogue.Service
	synth speech.Synthesizer
	store interview.Persister
	reg   *Registry
	echo  *echo.Echo
}

// New wires routes onto an echo instance.
func New(cfg config.Config, svc dialogue.Service, synth speech.Synthesizer, store interview.Persister) *Server {
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		synth: synth,
		store: store,
		reg:   NewRegistry(cfg.SessionTTL),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/interview/start", s.handleStart)
	e.POST("/api/interview/:id/answer", s.handleAnswer)
	e.POST("/api/interview/:id/restart", s.handleRestart)
	e.GET("/api/interview/:id", s.handleStatus)
	e.GET("/ws/interview/:id", s.handleWS)

	s.echo = e
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Close shuts down every live session.
func (s *Server) Close() { s.reg.Close() }

type startRequest struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Language string `json:"language"`
	Variant  string `json:"variant"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	if req.Language == "" {
		req.Language = "en"
	}
	variant := dialogue.VariantPrimary
	if req.Variant == string(dialogue.VariantFollowup) {
		variant = dialogue.VariantFollowup
	}

	patient := dialogue.Patient{Name: req.Name, Age: req.Age, Gender: req.Gender, Language: req.Language}
	sess := newSession(uuid.NewString(), s.cfg, s.svc, s.synth, s.store, patient, variant)
	s.reg.Put(sess)
	sess.machine.Start()

	return c.JSON(http.StatusCreated, startResponse{SessionID: sess.ID})
}

type answerRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAnswer(c echo.Context) error {
	sess := s.reg.Get(c.Param("id"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	sess.touch()
	sess.machine.SubmitTyped(req.Text)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRestart(c echo.Context) error {
	sess := s.reg.Get(c.Param("id"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}
	sess.touch()
	sess.machine.Restart()
	sess.machine.Start()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleStatus(c echo.Context) error {
	sess := s.reg.Get(c.Param("id"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}
	sess.touch()
	return c.JSON(http.StatusOK, sess.machine.Status())
}
