package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes a YOLO model exported to ONNX.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	Labels      []string
	InputSize   int
	Confidence  float64
	IOU         float64
	PoolSize    int
}

// ONNXModel runs a YOLOv8/v11 detection head through onnxruntime. Each Predict
// borrows a session from the pool, so the model is safe for concurrent use.
type ONNXModel struct {
	cfg        ONNXConfig
	numAnchors int
	pool       *SessionPool[*onnxSession]
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) Destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// ShutdownRuntime releases the onnxruntime environment. Call it once, after
// every model has been closed.
func ShutdownRuntime() {
	if runtimeErr == nil {
		if err := ort.DestroyEnvironment(); err != nil {
			log.WithError(err).Warn("Failed to destroy onnxruntime environment")
		}
	}
}

// LoadONNX loads the model weights and builds the session pool.
func LoadONNX(cfg ONNXConfig) (*ONNXModel, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("model labels are empty")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("error initializing onnxruntime: %w", err)
	}

	m := &ONNXModel{cfg: cfg, numAnchors: anchorCount(cfg.InputSize)}
	pool, err := NewSessionPool(cfg.PoolSize, m.newSession)
	if err != nil {
		return nil, err
	}
	m.pool = pool

	log.WithFields(log.Fields{
		"model_path": cfg.ModelPath,
		"labels":     len(cfg.Labels),
		"input_size": cfg.InputSize,
		"pool_size":  pool.Size(),
	}).Info("Detection model loaded")

	return m, nil
}

func (m *ONNXModel) newSession() (*onnxSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := runtime.NumCPU() / max(m.cfg.PoolSize, 1)
	if err := options.SetIntraOpNumThreads(max(threads, 1)); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}

	size := int64(m.cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(m.cfg.Labels)), int64(m.numAnchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		m.cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &onnxSession{session: session, input: input, output: output}, nil
}

// Labels returns the class vocabulary in class-id order.
func (m *ONNXModel) Labels() []string {
	return m.cfg.Labels
}

// Metrics exposes the session pool counters.
func (m *ONNXModel) Metrics() PoolMetrics {
	return m.pool.Metrics()
}

// Predict runs one inference and returns boxes in source-image pixels.
func (m *ONNXModel) Predict(ctx context.Context, img image.Image) ([]RawDetection, error) {
	s, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(s)

	size := m.cfg.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)
	fillCHW(resized, s.input.GetData(), size)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	dets := decodeYOLO(
		s.output.GetData(),
		len(m.cfg.Labels),
		m.numAnchors,
		float32(m.cfg.Confidence),
		w/float64(size), h/float64(size),
		w, h,
	)
	return nonMaxSuppression(dets, m.cfg.IOU), nil
}

// Close destroys every session.
func (m *ONNXModel) Close() {
	m.pool.Destroy()
}

// fillCHW writes the image as planar RGB scaled to [0, 1].
func fillCHW(img *image.NRGBA, dst []float32, size int) {
	channel := size * size
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			px := row[x*4 : x*4+3]
			dst[i] = float32(px[0]) / 255.0
			dst[channel+i] = float32(px[1]) / 255.0
			dst[2*channel+i] = float32(px[2]) / 255.0
		}
	}
}
