// Package stream runs the per-connection frame loop: receive a frame, detect,
// fuse the detections into one driver status and answer on the same connection.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/detector"
	"github.com/ukydev/drowsiness-monitor/internal/frame"
	"github.com/ukydev/drowsiness-monitor/internal/fusion"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

const (
	MsgInvalidFrame   = "Invalid frame"
	MsgInvalidImage   = "Invalid image"
	MsgModelNotLoaded = "Model not loaded"
)

// SessionInfo identifies one streaming connection.
type SessionInfo struct {
	ID         string
	UserID     int64
	RemoteAddr string
}

// FrameResponse is sent for every frame that went through detection.
type FrameResponse struct {
	Status     fusion.Status          `json:"status"`
	Detections []models.DetectionView `json:"detections"`
}

// ErrorResponse is sent for a frame that could not be processed.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OneShotResponse is the result of a single-image detection: either the
// detections or an error message.
type OneShotResponse struct {
	Detections []models.DetectionView
	Error      string
}

// MarshalJSON renders {"error": ...} or {"detections": [...]}.
func (r OneShotResponse) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(ErrorResponse{Error: r.Error})
	}
	detections := r.Detections
	if detections == nil {
		detections = []models.DetectionView{}
	}
	return json.Marshal(struct {
		Detections []models.DetectionView `json:"detections"`
	}{detections})
}

// FrameResult is what observers see after a frame response has been sent.
type FrameResult struct {
	Session    SessionInfo
	Status     fusion.Status
	Detections []models.Detection
	At         time.Time
}

// Observer is notified of every processed frame. Errors are logged and never
// end the session.
type Observer interface {
	Observe(ctx context.Context, result FrameResult) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result FrameResult) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, result FrameResult) error {
	return f(ctx, result)
}

// Options configures a Handler.
type Options struct {
	// IdleTimeout closes a session that receives no frame for this long. Zero waits forever.
	IdleTimeout time.Duration
	// MaxPixels rejects frames larger than this before decoding. Zero means frame.DefaultMaxPixels.
	MaxPixels int
	Engine    *fusion.Engine
	Observers []Observer
}

// Handler serves streaming sessions and one-shot detections. It holds no
// per-session state and may serve any number of connections at once.
type Handler struct {
	detector    *detector.Adapter
	engine      *fusion.Engine
	observers   []Observer
	idleTimeout time.Duration
	maxPixels   int
}

// NewHandler creates a Handler around a detector adapter.
func NewHandler(det *detector.Adapter, opts Options) *Handler {
	engine := opts.Engine
	if engine == nil {
		engine = fusion.Default
	}
	return &Handler{
		detector:    det,
		engine:      engine,
		observers:   opts.Observers,
		idleTimeout: opts.IdleTimeout,
		maxPixels:   opts.MaxPixels,
	}
}

// Serve runs the session loop until the client disconnects, the idle timeout
// expires, ctx is cancelled or an unexpected failure occurs. It never returns
// an error: every exit path ends with the connection closed.
func (h *Handler) Serve(ctx context.Context, conn Conn, info SessionInfo) {
	logger := log.WithFields(log.Fields{
		"session_id":  info.ID,
		"user_id":     info.UserID,
		"remote_addr": info.RemoteAddr,
	})
	logger.Info("Stream session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// unblock a pending read on server shutdown
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	frames := 0
	for {
		err := h.step(ctx, conn, info, logger)
		if err == nil {
			frames++
			continue
		}
		switch {
		case errors.Is(err, ErrDisconnected):
			logger.WithField("frames", frames).Info("Client disconnected")
		case errors.Is(err, ErrIdleTimeout) && ctx.Err() != nil:
			logger.WithField("frames", frames).Info("Stream session stopped by server")
		case errors.Is(err, ErrIdleTimeout):
			logger.WithField("frames", frames).Info("Stream session idle, closing")
		default:
			logger.WithError(err).WithField("frames", frames).Error("Stream session failed")
		}
		if closeErr := conn.Close(); closeErr != nil {
			logger.WithError(closeErr).Debug("Close failed")
		}
		return
	}
}

// step handles exactly one inbound message. A nil return keeps the session open.
func (h *Handler) step(ctx context.Context, conn Conn, info SessionInfo, logger *log.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in frame loop: %v", r)
		}
	}()

	if h.idleTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}
	if ctx.Err() != nil {
		return ErrIdleTimeout
	}

	data, err := conn.ReadFrame()
	if errors.Is(err, ErrNotBinary) {
		logger.Debug("Non-binary message received")
		return h.send(conn, ErrorResponse{Error: MsgInvalidFrame})
	}
	if err != nil {
		return err
	}

	img, err := frame.DecodeLimit(data, h.maxPixels)
	if err != nil {
		logger.WithError(err).Debug("Frame decode failed")
		return h.send(conn, ErrorResponse{Error: MsgInvalidFrame})
	}

	detections, err := h.detector.Detect(ctx, img)
	if errors.Is(err, detector.ErrModelUnavailable) {
		return h.send(conn, ErrorResponse{Error: MsgModelNotLoaded})
	}
	if err != nil {
		return err
	}

	status := h.engine.Fuse(detections)
	if err := h.send(conn, FrameResponse{Status: status, Detections: models.Views(detections)}); err != nil {
		return err
	}

	h.notify(ctx, FrameResult{Session: info, Status: status, Detections: detections, At: time.Now().UTC()}, logger)
	return nil
}

func (h *Handler) send(conn Conn, v interface{}) error {
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (h *Handler) notify(ctx context.Context, result FrameResult, logger *log.Entry) {
	for _, o := range h.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("panic", r).Error("Frame observer panicked")
				}
			}()
			if err := o.Observe(ctx, result); err != nil {
				logger.WithError(err).Warn("Frame observer failed")
			}
		}()
	}
}

// DetectOnce decodes a single image and runs detection on it. No status is fused.
func (h *Handler) DetectOnce(ctx context.Context, data []byte) OneShotResponse {
	if !h.detector.Available() {
		return OneShotResponse{Error: MsgModelNotLoaded}
	}
	img, err := frame.DecodeLimit(data, h.maxPixels)
	if err != nil {
		return OneShotResponse{Error: MsgInvalidImage}
	}
	detections, err := h.detector.Detect(ctx, img)
	if err != nil {
		log.WithError(err).Error("One-shot detection failed")
		if errors.Is(err, detector.ErrModelUnavailable) {
			return OneShotResponse{Error: MsgModelNotLoaded}
		}
		return OneShotResponse{Error: "Detection failed"}
	}
	return OneShotResponse{Detections: models.Views(detections)}
}
