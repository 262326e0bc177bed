package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/middleware"
	"github.com/ukydev/drowsiness-monitor/internal/stream"
)

// AIHandler exposes the detector over HTTP and websockets.
type AIHandler struct {
	stream        *stream.Handler
	upgrader      websocket.Upgrader
	maxFrameBytes int64

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// NewAIHandler creates the detection endpoints. Frames and uploads larger than
// maxFrameBytes are rejected.
func NewAIHandler(h *stream.Handler, maxFrameBytes int64) *AIHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &AIHandler{
		stream: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			// Origins are enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxFrameBytes: maxFrameBytes,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Detect runs detection on one uploaded image, sent either as the multipart
// field "file" or as the raw request body.
func (h *AIHandler) Detect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFrameBytes)

	data, err := readUpload(r, h.maxFrameBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Image file is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, h.stream.DetectOnce(r.Context(), data))
}

func readUpload(r *http.Request, maxBytes int64) ([]byte, error) {
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// Stream upgrades the request to a websocket and runs a detection session on it
// until the client leaves or Close is called.
func (h *AIHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.begin() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	info := stream.SessionInfo{ID: uuid.NewString(), RemoteAddr: r.RemoteAddr}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		info.UserID = claims.UserID
	}

	h.stream.Serve(h.ctx, stream.NewWSConn(ws, h.maxFrameBytes), info)
}

// Close ends every open streaming session and waits for them to finish.
func (h *AIHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.sessions.Wait()
}

// begin registers a session unless Close has already started.
func (h *AIHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions.Add(1)
	return true
}
