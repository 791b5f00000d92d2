package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strings"
	"time"

	"github.com/arisofia/ocr-backend/internal/imaging"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
)

// Engine shells out to the tesseract binary. The binary is an external
// collaborator; everything above consumes it through a plain function so
// tests can substitute fakes.
type Engine struct {
	log     *logger.Logger
	path    string
	timeout time.Duration
}

func New(log *logger.Logger, path string) *Engine {
	if path == "" {
		path = "tesseract"
	}
	return &Engine{
		log:     log.With("service", "TesseractEngine"),
		path:    path,
		timeout: 30 * time.Second,
	}
}

// Probe resolves the binary and extracts its version. Returns
// ("", false) when the binary is missing or does not answer.
func (e *Engine) Probe() (string, bool) {
	bin, err := exec.LookPath(e.path)
	if err != nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return "", false
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		return fields[1], true
	}
	return line, true
}

// ImageToText runs one OCR pass over the image.
func (e *Engine) ImageToText(ctx context.Context, img image.Image) (string, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode ocr input: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		e.log.Debug("tesseract pass failed", "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return stdout.String(), nil
}
