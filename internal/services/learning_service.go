package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arisofia/ocr-backend/internal/config"
	pkgerrors "github.com/arisofia/ocr-backend/internal/pkg/errors"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/supabase"
	"github.com/arisofia/ocr-backend/internal/types"
)

const (
	patternSchemaVersion = 1
	localPatternCap      = 500

	learningHealthTTL = 60 * time.Second
)

// LearningService persists reconstruction quality signals per document
// type. Writes go to the local JSON store and, when configured, to the
// cloud table in the background. Reads prefer the cloud copy.
type LearningService interface {
	Record(ctx context.Context, docType string, fontMetadata map[string]any, accuracy float64)
	GetBest(ctx context.Context, docType string) (*types.LearnedPattern, error)
	Health(ctx context.Context) error
}

type learningService struct {
	log           *logger.Logger
	cloud         supabase.Client
	localPath     string
	useLocal      bool
	cloudDeadline time.Duration

	mu       sync.Mutex
	patterns []types.LearnedPattern
	loaded   bool

	healthMu      sync.Mutex
	healthChecked time.Time
	healthErr     error
}

func NewLearningService(log *logger.Logger, cfg *config.Settings, cloud supabase.Client) LearningService {
	return &learningService{
		log:           log.With("service", "LearningService"),
		cloud:         cloud,
		localPath:     cfg.LocalDataPath,
		useLocal:      cfg.UseLocalFallback,
		cloudDeadline: cfg.CloudWriteDeadline,
	}
}

// Record stores the signal locally under the mutex and fires the cloud
// upsert on a background goroutine bounded by the write deadline. Callers
// never block on the cloud.
func (ls *learningService) Record(ctx context.Context, docType string, fontMetadata map[string]any, accuracy float64) {
	p := types.LearnedPattern{
		DocType:       docType,
		FontMetadata:  fontMetadata,
		AccuracyScore: accuracy,
		SchemaVersion: patternSchemaVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	if ls.useLocal {
		ls.mu.Lock()
		ls.ensureLoadedLocked()
		ls.patterns = append(ls.patterns, p)
		if len(ls.patterns) > localPatternCap {
			// The file stays append-ordered, newest last; overflow drops
			// the oldest entries.
			ls.patterns = ls.patterns[len(ls.patterns)-localPatternCap:]
		}
		if err := ls.flushLocked(); err != nil {
			ls.log.Warn("Local pattern write failed", "path", ls.localPath, "error", err)
		}
		ls.mu.Unlock()
	}

	if ls.cloud != nil {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), ls.cloudDeadline)
			defer cancel()
			if err := ls.cloud.UpsertPattern(cctx, &p); err != nil {
				ls.log.Warn("Cloud pattern upsert failed", "doc_type", docType, "error", err)
			}
		}()
	}
}

// GetBest prefers the cloud row; a miss or cloud failure falls through to
// the highest-accuracy local entry.
func (ls *learningService) GetBest(ctx context.Context, docType string) (*types.LearnedPattern, error) {
	if ls.cloud != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		p, err := ls.cloud.BestPattern(cctx, docType)
		cancel()
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			ls.log.Warn("Cloud pattern lookup failed, using local store", "doc_type", docType, "error", err)
		}
	}

	if !ls.useLocal {
		return nil, pkgerrors.ErrNotFound
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.ensureLoadedLocked()
	var best *types.LearnedPattern
	for i := range ls.patterns {
		if ls.patterns[i].DocType != docType {
			continue
		}
		if best == nil || ls.patterns[i].AccuracyScore > best.AccuracyScore {
			best = &ls.patterns[i]
		}
	}
	if best == nil {
		return nil, pkgerrors.ErrNotFound
	}
	out := *best
	return &out, nil
}

// Health reports healthy when the cloud store answers a ping or, failing
// that, when the local fallback file is writable. Cached for 60 s.
func (ls *learningService) Health(ctx context.Context) error {
	ls.healthMu.Lock()
	defer ls.healthMu.Unlock()
	if time.Since(ls.healthChecked) < learningHealthTTL {
		return ls.healthErr
	}
	ls.healthErr = ls.healthCheck(ctx)
	ls.healthChecked = time.Now()
	return ls.healthErr
}

func (ls *learningService) healthCheck(ctx context.Context) error {
	var lastErr error
	if ls.cloud != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = ls.cloud.Ping(cctx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	if ls.useLocal {
		err := ls.probeLocal()
		if err == nil {
			return nil
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no pattern store configured")
	}
	return lastErr
}

// probeLocal verifies the fallback file can be opened for writing.
func (ls *learningService) probeLocal() error {
	if dir := filepath.Dir(ls.localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(ls.localPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (ls *learningService) ensureLoadedLocked() {
	if ls.loaded {
		return
	}
	ls.loaded = true
	data, err := os.ReadFile(ls.localPath)
	if err != nil {
		if !os.IsNotExist(err) {
			ls.log.Warn("Local pattern read failed", "path", ls.localPath, "error", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, &ls.patterns); err != nil {
		ls.log.Warn("Local pattern store corrupted, starting fresh", "path", ls.localPath, "error", err)
		ls.patterns = nil
	}
}

func (ls *learningService) flushLocked() error {
	data, err := json.MarshalIndent(ls.patterns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	if dir := filepath.Dir(ls.localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pattern dir: %w", err)
		}
	}
	return os.WriteFile(ls.localPath, data, 0o644)
}
