// Package server exposes melody generation and the session artifacts over
// HTTP for browser front ends: /save-text, /save-midi, /continue and the
// artifact routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-melody/generate"
	"go-melody/midi"
	"go-melody/note"
	"go-melody/storage"
)

const (
	maxArtifactSize = 32 << 20
	// latest accepted note time in a /save-midi body, in seconds
	maxNoteTime = 24 * 60 * 60
)

// Server serves /status, /save-text, /save-midi, /continue and /artifacts
type Server struct {
	orch      *generate.Orchestrator
	store     storage.Store
	log       *zap.Logger
	buildOpts []midi.BuildOption
}

// New creates a server. orch may be shared with other callers; its busy
// guard applies across all of them.
func New(orch *generate.Orchestrator, store storage.Store, log *zap.Logger, opts ...midi.BuildOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{orch: orch, store: store, log: log, buildOpts: opts}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.accessLog())

	// CORS for the browser front end
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/status", s.status)
	r.POST("/save-text", s.saveText)
	r.POST("/save-midi", s.saveMidi)
	r.POST("/continue", s.continueRecording)
	r.GET("/artifacts/:name", s.getArtifact)
	r.PUT("/artifacts/:name", s.putArtifact)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func artifactPath(ref storage.Ref) string {
	if ref == "" {
		return ""
	}
	return "/artifacts/" + ref.Name()
}

// status lets front ends poll before offering the generate button
func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"busy": s.orch.Busy()})
}

func (s *Server) saveText(c *gin.Context) {
	var request struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No text provided"})
		return
	}

	res, err := s.orch.Submit(c.Request.Context(), request.Text)
	if err != nil {
		s.generateError(c, err)
		return
	}

	c.JSON(http.StatusOK, resultBody("Melody generated successfully", res))
}

func resultBody(message string, res generate.Result) gin.H {
	resp := gin.H{
		"message":  message,
		"midiPath": artifactPath(res.MIDI),
	}
	if res.Audio != "" {
		resp["audioPath"] = artifactPath(res.Audio)
	}
	return resp
}

func (s *Server) generateError(c *gin.Context, err error) {
	var failed *generate.FailedError
	switch {
	case errors.Is(err, generate.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No text provided"})
	case errors.Is(err, generate.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, generate.ErrNoContinuation):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.As(err, &failed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Melody generation failed",
			"details": failed.Detail,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal server error",
			"details": err.Error(),
		})
	}
}

// continueRecording extends a stored recording (recorded.mid by default).
func (s *Server) continueRecording(c *gin.Context) {
	var request struct {
		Recording string `json:"recording"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := s.orch.Continue(c.Request.Context(), storage.Ref(request.Recording))
	if err != nil {
		s.generateError(c, err)
		return
	}
	c.JSON(http.StatusOK, resultBody("Recording continued successfully", res))
}

type recordedNote struct {
	Note string  `json:"note"`
	Time float64 `json:"time"` // seconds from recording start
}

func (s *Server) saveMidi(c *gin.Context) {
	var request struct {
		Notes []recordedNote `json:"notes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Notes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No notes recorded."})
		return
	}

	events := make([]note.Event, len(request.Notes))
	for i, n := range request.Notes {
		if math.IsNaN(n.Time) || math.IsInf(n.Time, 0) || n.Time > maxNoteTime {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("note time %v out of range", n.Time)})
			return
		}
		offset := time.Duration(n.Time * float64(time.Second))
		if offset < 0 {
			offset = 0
		}
		events[i] = note.Event{Name: n.Note, Offset: offset, Duration: note.DefaultDuration}
	}

	data, err := midi.Encode(events, s.buildOpts...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := s.store.Save(c.Request.Context(), storage.RecordedMIDI, data)
	if err != nil {
		s.log.Error("save recording", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save MIDI file"})
		return
	}

	if !s.orch.CanContinue() {
		c.JSON(http.StatusOK, gin.H{
			"message":  "MIDI file saved successfully",
			"filePath": artifactPath(ref),
		})
		return
	}

	res, err := s.orch.Continue(c.Request.Context(), ref)
	var failed *generate.FailedError
	switch {
	case err == nil:
	case errors.Is(err, generate.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.As(err, &failed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing MIDI file: " + failed.Detail})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing MIDI file: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "MIDI file saved and generated successfully",
		"filePath":     artifactPath(res.MIDI),
		"recordedPath": artifactPath(ref),
	})
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".mid", ".midi":
		return "audio/midi"
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

func (s *Server) getArtifact(c *gin.Context) {
	name := c.Param("name")
	data, err := s.store.Fetch(c.Request.Context(), storage.Ref(name))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType(name), data)
}

func (s *Server) putArtifact(c *gin.Context) {
	name := c.Param("name")
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxArtifactSize))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("artifact larger than %d bytes", tooBig.Limit),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := s.store.Save(c.Request.Context(), name, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filePath": artifactPath(ref)})
}
