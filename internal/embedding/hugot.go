package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"go.uber.org/zap"

	"github.com/hyperjump/tiku/pkg/utils"
)

// HugotConfig locates the local sentence-transformer model.
type HugotConfig struct {
	// Model is the hub id, e.g. "BAAI/bge-small-zh-v1.5".
	Model string
	// ModelDir holds downloaded models, one subdirectory per model.
	ModelDir string
	// OnnxFile is the model file path inside the repository.
	OnnxFile string
	// Mirror is an alternative hub endpoint used for downloads.
	Mirror string
	Logger *zap.Logger
}

// HugotEncoder runs a feature-extraction pipeline in-process on the pure Go backend.
type HugotEncoder struct {
	mu         sync.Mutex
	session    *hugot.Session
	run        func(texts []string) ([][]float32, error)
	dimensions int
}

// LocalModelPath is where a model id is expected under dir.
func LocalModelPath(dir, model string) string {
	return filepath.Join(dir, strings.ReplaceAll(model, "/", "_"))
}

// PrepareModel returns the local model path, downloading the model first when absent.
func PrepareModel(cfg HugotConfig) (string, error) {
	logger := utils.OrNop(cfg.Logger)
	modelPath := LocalModelPath(cfg.ModelDir, cfg.Model)
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(cfg.ModelDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if cfg.Mirror != "" {
		if err := os.Setenv("HF_ENDPOINT", cfg.Mirror); err != nil {
			return "", err
		}
	}
	logger.Info("downloading embedding model", zap.String("model", cfg.Model), zap.String("dir", cfg.ModelDir), zap.String("mirror", cfg.Mirror))
	downloadOptions := hugot.NewDownloadOptions()
	if cfg.OnnxFile != "" {
		downloadOptions.OnnxFilePath = cfg.OnnxFile
	}
	downloadedPath, err := hugot.DownloadModel(cfg.Model, cfg.ModelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", cfg.Model, err)
	}
	return downloadedPath, nil
}

// NewHugotEncoder loads the model once and probes its output dimension.
func NewHugotEncoder(cfg HugotConfig) (*HugotEncoder, error) {
	modelPath, err := PrepareModel(cfg)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}
	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "tiku-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	e := &HugotEncoder{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}
	probe, err := e.run([]string{"probe"})
	if err != nil || len(probe) != 1 {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to probe embedding dimension: %v", err)
	}
	e.dimensions = len(probe[0])
	return e, nil
}

// Encode runs the pipeline. Calls are serialized; the session is not reentrant.
func (e *HugotEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vecs, err := e.run(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return vecs, nil
}

// Dimensions returns the probed model dimension.
func (e *HugotEncoder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session.
func (e *HugotEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}
