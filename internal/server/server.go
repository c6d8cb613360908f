// Package server exposes face classification and banknote verification over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/screener/internal/identity"
	"github.com/andresmejia3/screener/internal/logging"
	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/worker"
)

// DefaultMaxUploadBytes caps a whole multipart request.
const DefaultMaxUploadBytes = 10 << 20

// Embedder finds faces in an encoded image.
type Embedder interface {
	Embed(image []byte) ([]types.FaceResult, error)
}

// NoteVerifier decides a banknote verdict from encoded front and back images.
type NoteVerifier interface {
	Verify(frontImage, backImage []byte, d types.Denomination) types.AuthenticityResult
}

// Deps are the collaborators behind the routes. A nil Embedder or Verifier
// disables the matching route with 503.
type Deps struct {
	Embedder       Embedder
	Classifier     *identity.Classifier
	Restricted     *types.Gallery
	General        *types.Gallery
	Verifier       NoteVerifier
	Logger         *zap.Logger
	MaxUploadBytes int64
}

type handler struct {
	deps Deps
	// The embedding worker speaks a strict request/response protocol.
	embedMu sync.Mutex
}

// NewRouter returns a gin engine with recovery and every route registered.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.Classifier == nil {
		deps.Classifier = &identity.Classifier{Threshold: identity.DefaultThreshold, Workers: 1}
	}
	router.MaxMultipartMemory = deps.MaxUploadBytes
	h := &handler{deps: deps}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"restricted": deps.Restricted.Len(),
			"general":    deps.General.Len(),
		})
	})
	router.POST("/classify", h.requestID, h.limitBody, h.classify)
	router.POST("/verify", h.requestID, h.limitBody, h.verify)
}

func (h *handler) requestID(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header("X-Request-ID", id)
	c.Next()
}

func (h *handler) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.MaxUploadBytes)
	c.Next()
}

func (h *handler) classify(c *gin.Context) {
	reqID := c.GetString("request_id")
	log := logging.WithOperation(h.deps.Logger, "classify", reqID)

	if h.deps.Embedder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"request_id": reqID, "error": "face embedder not configured"})
		return
	}

	data, status, err := readUpload(c, "image")
	if err != nil {
		c.JSON(status, gin.H{"request_id": reqID, "error": err.Error()})
		return
	}

	h.embedMu.Lock()
	faces, err := h.deps.Embedder.Embed(data)
	h.embedMu.Unlock()
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, worker.ErrWorkerBroken) {
			status = http.StatusServiceUnavailable
		}
		err = logging.Wrap("worker.embed", reqID, err)
		log.Error("embedding failed", zap.Error(err))
		c.JSON(status, gin.H{"request_id": reqID, "error": err.Error()})
		return
	}

	reports := make([]identity.FaceReport, 0, len(faces))
	for _, face := range faces {
		res, err := h.deps.Classifier.Classify(face.Vec, h.deps.Restricted, h.deps.General)
		if err != nil {
			log.Error("classification failed", zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"request_id": reqID, "error": err.Error()})
			return
		}
		reports = append(reports, identity.NewFaceReport(face, res))
	}

	log.Info("classified image", zap.Int("faces", len(reports)))
	body := gin.H{"request_id": reqID, "faces": reports}
	if len(reports) == 0 {
		body["message"] = "no faces detected"
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) verify(c *gin.Context) {
	reqID := c.GetString("request_id")
	log := logging.WithOperation(h.deps.Logger, "verify", reqID)

	if h.deps.Verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"request_id": reqID, "error": "feature library not loaded"})
		return
	}

	front, status, err := readUpload(c, "front")
	if err != nil {
		c.JSON(status, gin.H{"request_id": reqID, "error": err.Error()})
		return
	}
	back, status, err := readUpload(c, "back")
	if err != nil {
		c.JSON(status, gin.H{"request_id": reqID, "error": err.Error()})
		return
	}

	d := types.Denomination{
		Currency: strings.ToUpper(strings.TrimSpace(c.PostForm("currency"))),
		Value:    strings.TrimSpace(c.PostForm("value")),
	}
	if d.Currency == "" || d.Value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"request_id": reqID, "error": "currency and value are required"})
		return
	}

	res := h.deps.Verifier.Verify(front, back, d)
	log.Info("verified note",
		zap.Stringer("denomination", d),
		zap.Stringer("verdict", res.Verdict),
		zap.Int("front_matched", res.FrontMatched),
		zap.Int("back_matched", res.BackMatched),
	)

	code := http.StatusOK
	if res.Verdict == types.VerdictError {
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, gin.H{
		"request_id":    reqID,
		"verdict":       res.Verdict,
		"currency":      d.Currency,
		"value":         d.Value,
		"front_matched": res.FrontMatched,
		"front_total":   res.FrontTotal,
		"back_matched":  res.BackMatched,
		"back_total":    res.BackTotal,
		"reason":        res.Reason,
		"summary":       res.Summary(),
	})
}

// readUpload returns the bytes of a multipart file field and the status to use on failure.
func readUpload(c *gin.Context, field string) ([]byte, int, error) {
	file, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("upload too large")
		}
		return nil, http.StatusBadRequest, fmt.Errorf("%s image file is required", field)
	}
	data, err := readFile(file)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to read %s image", field)
	}
	return data, 0, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
// A non-nil listener is used instead of srv.Addr.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = srv.Serve(listener)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down server", zap.Error(ctx.Err()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
