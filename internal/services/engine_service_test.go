package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/fogleman/gg"

	"github.com/arisofia/ocr-backend/internal/config"
	"github.com/arisofia/ocr-backend/internal/imaging"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/pkg/textscore"
	"github.com/arisofia/ocr-backend/internal/types"
)

// pageWithBlocks renders a white page with solid dark blocks so layout
// analysis finds a predictable region set.
func pageWithBlocks(w, h int, blocks [][4]int) []byte {
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	for _, b := range blocks {
		dc.DrawRectangle(float64(b[0]), float64(b[1]), float64(b[2]), float64(b[3]))
		dc.Fill()
	}
	data, err := imaging.EncodePNG(dc.Image())
	if err != nil {
		panic(err)
	}
	return data
}

func multiRegionPage() []byte {
	return pageWithBlocks(400, 300, [][4]int{
		{40, 30, 150, 30},
		{220, 100, 100, 50},
		{50, 200, 120, 40},
	})
}

func blankPage() []byte {
	return pageWithBlocks(200, 200, nil)
}

// scriptedOCR returns canned outputs call by call; an entry starting with
// "ERR" fails that call.
func scriptedOCR(outputs ...string) (OCRFunc, *int) {
	calls := new(int)
	return func(ctx context.Context, img image.Image) (string, error) {
		i := *calls
		*calls++
		if i >= len(outputs) {
			return "", nil
		}
		if strings.HasPrefix(outputs[i], "ERR") {
			return "", errors.New("ocr crashed")
		}
		return outputs[i], nil
	}, calls
}

type fakeRecon struct {
	available bool
	version   string

	reconRes *types.ReconResult
	reconErr error

	lastPreferred string
	lastContext   map[string]any
}

func (f *fakeRecon) ReconstructionAvailable() bool  { return f.available }
func (f *fakeRecon) ReconstructionVersion() string  { return f.version }
func (f *fakeRecon) ProviderNames() []string        { return nil }
func (f *fakeRecon) Close()                         {}
func (f *fakeRecon) ReconstructPixels(img image.Image) (image.Image, []string) {
	return img, []string{"remove_color_overlay", "remove_redactions", "sharpen"}
}
func (f *fakeRecon) ReconstructWithAI(ctx context.Context, image []byte, preferred string, contextData map[string]any, fallbackEnabled bool) (*types.ReconResult, error) {
	f.lastPreferred = preferred
	f.lastContext = contextData
	return f.reconRes, f.reconErr
}

type recordedPattern struct {
	docType      string
	fontMetadata map[string]any
	accuracy     float64
}

type fakeLearning struct {
	pattern  *types.LearnedPattern
	recorded chan recordedPattern
}

func newFakeLearning(pattern *types.LearnedPattern) *fakeLearning {
	return &fakeLearning{pattern: pattern, recorded: make(chan recordedPattern, 4)}
}

func (f *fakeLearning) Record(ctx context.Context, docType string, fontMetadata map[string]any, accuracy float64) {
	f.recorded <- recordedPattern{docType: docType, fontMetadata: fontMetadata, accuracy: accuracy}
}
func (f *fakeLearning) GetBest(ctx context.Context, docType string) (*types.LearnedPattern, error) {
	if f.pattern == nil {
		return nil, fmt.Errorf("no pattern: %w", errNotFoundForTest)
	}
	return f.pattern, nil
}
func (f *fakeLearning) Health(ctx context.Context) error { return nil }

var errNotFoundForTest = errors.New("not found")

func testSettings() *config.Settings {
	return &config.Settings{
		OCRIterations:       3,
		ConfidenceThreshold: 0.5,
		MaxImageMB:          10,
	}
}

func newTestEngine(ocr OCRFunc, recon ReconService, learning LearningService) EngineService {
	return NewEngineService(logger.NewNop(), testSettings(), ocr, recon, learning)
}

func TestProcessValidationErrors(t *testing.T) {
	ocr, _ := scriptedOCR()
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	if _, err := es.Process(context.Background(), nil, false); !errors.Is(err, imaging.ErrEmptyInput) {
		t.Fatalf("empty input: want ErrEmptyInput got=%v", err)
	}
	if _, err := es.Process(context.Background(), []byte("not an image"), false); !errors.Is(err, imaging.ErrCorrupted) {
		t.Fatalf("corrupted input: want ErrCorrupted got=%v", err)
	}
}

func TestProcessRegionPassWinsWhenFirstPassIsWeak(t *testing.T) {
	// Pass 1 yields junk, so iteration 2 switches to per-region extraction.
	ocr, calls := scriptedOCR(
		"x",
		"invoice total 1200",
		"fecha 2024-01-05",
		"nombre Alice Fernandez",
		"x",
	)
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), multiRegionPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	wantText := "invoice total 1200\n\nfecha 2024-01-05\n\nnombre Alice Fernandez"
	if res.Text != wantText {
		t.Fatalf("text: want=%q got=%q", wantText, res.Text)
	}
	if want := textscore.Score(wantText); res.Confidence != want {
		t.Fatalf("confidence: want=%v got=%v", want, res.Confidence)
	}
	if !res.Success {
		t.Fatalf("expected success")
	}
	if len(res.Iterations) != 3 {
		t.Fatalf("iterations: want=3 got=%d", len(res.Iterations))
	}
	if res.Iterations[0].Method != types.MethodFullPage {
		t.Fatalf("pass 1 method: want=%s got=%s", types.MethodFullPage, res.Iterations[0].Method)
	}
	if res.Iterations[1].Method != types.MethodRegionBased {
		t.Fatalf("pass 2 method: want=%s got=%s", types.MethodRegionBased, res.Iterations[1].Method)
	}
	if res.Iterations[2].Method != types.MethodFullPage {
		t.Fatalf("pass 3 method: want=%s got=%s", types.MethodFullPage, res.Iterations[2].Method)
	}
	// 1 full page + 3 regions + 1 full page.
	if *calls != 5 {
		t.Fatalf("ocr calls: want=5 got=%d", *calls)
	}
}

func TestProcessNoRegionPassAboveThreshold(t *testing.T) {
	strong := strings.Repeat("invoice total fecha nombre ", 5)
	ocr, calls := scriptedOCR(strong, "x", "x")
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), multiRegionPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Iterations[1].Method != types.MethodFullPage {
		t.Fatalf("pass 2 method: want=%s got=%s", types.MethodFullPage, res.Iterations[1].Method)
	}
	if *calls != 3 {
		t.Fatalf("ocr calls: want=3 got=%d", *calls)
	}
	if res.Text != strings.TrimSpace(strong) {
		t.Fatalf("best text should be the strong first pass")
	}
}

func TestProcessBestOfIterations(t *testing.T) {
	// Single-region page, so every pass is full page.
	weak := "hello"
	strong := "invoice total fecha nombre factura amount due 1200"
	ocr, _ := scriptedOCR(weak, strong, weak)
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), blankPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Text != strong {
		t.Fatalf("best text: want second pass, got=%q", res.Text)
	}
	if res.Confidence != textscore.Score(strong) {
		t.Fatalf("confidence should match the winning pass")
	}
	for i, rec := range res.Iterations {
		if rec.Iteration != i+1 {
			t.Fatalf("iteration numbering: want=%d got=%d", i+1, rec.Iteration)
		}
	}
}

func TestProcessFailedPassRecorded(t *testing.T) {
	ocr, _ := scriptedOCR("ERR", "hello", "hello")
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), blankPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	first := res.Iterations[0]
	if first.Error != "failed" || first.Iteration != 1 {
		t.Fatalf("failed pass record: got=%+v", first)
	}
	if first.Method != "" || first.Confidence != 0 {
		t.Fatalf("failed pass must not carry extraction fields: %+v", first)
	}
	if res.Text != "hello" {
		t.Fatalf("later passes should still set best text, got=%q", res.Text)
	}
}

func TestProcessPreviewTruncation(t *testing.T) {
	long := strings.Repeat("abcdefghij", 10)
	ocr, _ := scriptedOCR(long, long, long)
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), blankPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	want := long[:50] + "..."
	if res.Iterations[0].Preview != want {
		t.Fatalf("preview: want=%q got=%q", want, res.Iterations[0].Preview)
	}
	if res.Iterations[0].TextLength != len(long) {
		t.Fatalf("text length: want=%d got=%d", len(long), res.Iterations[0].TextLength)
	}
}

func TestProcessPreviewShortTextUntruncated(t *testing.T) {
	ocr, _ := scriptedOCR("hello", "hello", "hello")
	es := newTestEngine(ocr, &fakeRecon{}, newFakeLearning(nil))

	res, err := es.Process(context.Background(), blankPage(), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Iterations[0].Preview != "hello" {
		t.Fatalf("short preview must not carry an ellipsis: got=%q", res.Iterations[0].Preview)
	}
}

func TestPreprocessReconstructionPassOrder(t *testing.T) {
	// Colored overlay band plus a redaction bar: the first pass must
	// sharpen in the color domain, inpaint the bar, subtract the overlay,
	// and only then binarize. Reordering any of those steps changes the
	// output pixels.
	dc := gg.NewContext(200, 120)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0.86, 0.78, 0.24)
	dc.DrawRectangle(30, 30, 130, 20)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(40, 55, 110, 25)
	dc.Fill()
	img := dc.Image()

	ocr, _ := scriptedOCR()
	es := newTestEngine(ocr, &fakeRecon{available: true}, newFakeLearning(nil)).(*engineService)
	got := es.preprocess(img, 0, true)

	sharp := imaging.SharpenRGBA(imaging.ToRGBA(img))
	cleaned := imaging.RemoveColorOverlay(imaging.RemoveRedactionsRGBA(sharp))
	want := imaging.ApplyThreshold(imaging.ToGray(cleaned))
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Fatalf("first reconstruction pass deviates from the pinned pipeline")
	}
	if got.Pix[65*got.Stride+90] != 255 {
		t.Fatalf("redaction bar must be inpainted before binarization")
	}
}

func TestProcessReconstructionSummary(t *testing.T) {
	ocr, _ := scriptedOCR("hello", "hello", "hello")
	recon := &fakeRecon{available: true, version: "5.3.0"}
	es := newTestEngine(ocr, recon, newFakeLearning(nil))

	res, err := es.Process(context.Background(), blankPage(), true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Reconstruction == nil || !res.Reconstruction.Applied {
		t.Fatalf("expected reconstruction summary, got=%+v", res.Reconstruction)
	}
	if res.Reconstruction.Source != "pixel_reconstruction" {
		t.Fatalf("reconstruction source: got=%q", res.Reconstruction.Source)
	}

	// Capability missing: no summary even when requested.
	es = newTestEngine(ocr, &fakeRecon{available: false}, newFakeLearning(nil))
	res, err = es.Process(context.Background(), blankPage(), true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Reconstruction != nil {
		t.Fatalf("unavailable toolchain must not report reconstruction")
	}
}

func TestProcessAdvancedSuccess(t *testing.T) {
	recon := &fakeRecon{reconRes: &types.ReconResult{Text: "hello", Model: "gpt-4o"}}
	learning := newFakeLearning(&types.LearnedPattern{
		DocType:       "invoice",
		FontMetadata:  map[string]interface{}{"family": "mono"},
		AccuracyScore: 0.8,
	})
	ocr, _ := scriptedOCR()
	es := newTestEngine(ocr, recon, learning)

	res, err := es.ProcessAdvanced(context.Background(), multiRegionPage(), "invoice")
	if err != nil {
		t.Fatalf("process advanced: %v", err)
	}
	if res.Method != "advanced_ai_reconstruction" {
		t.Fatalf("method: got=%q", res.Method)
	}
	if res.Text != "hello" || res.Confidence != 0.02 {
		t.Fatalf("result: got text=%q confidence=%v", res.Text, res.Confidence)
	}
	if !res.Success {
		t.Fatalf("expected success")
	}
	if res.LayoutAnalysis == nil || res.LayoutAnalysis.Regions != 3 {
		t.Fatalf("layout analysis: got=%+v", res.LayoutAnalysis)
	}

	if recon.lastContext["layout_type"] == "" || recon.lastContext["region_count"] != 3 {
		t.Fatalf("provider context missing layout info: %v", recon.lastContext)
	}
	if recon.lastContext["accuracy_score"] != 0.8 {
		t.Fatalf("provider context missing pattern accuracy: %v", recon.lastContext)
	}

	select {
	case rec := <-learning.recorded:
		if rec.docType != "invoice" || rec.accuracy != 0.02 {
			t.Fatalf("learning write: got=%+v", rec)
		}
		if rec.fontMetadata["source"] != "ai_reconstruction" || rec.fontMetadata["model"] != "gpt-4o" {
			t.Fatalf("learning metadata: got=%v", rec.fontMetadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("learning write was not scheduled")
	}
}

func TestProcessAdvancedFallsBackToIterative(t *testing.T) {
	recon := &fakeRecon{available: true, reconErr: ErrAllProvidersFailed}
	ocr, _ := scriptedOCR("hello", "hello", "hello")
	es := newTestEngine(ocr, recon, newFakeLearning(nil))

	res, err := es.ProcessAdvanced(context.Background(), blankPage(), "invoice")
	if err != nil {
		t.Fatalf("process advanced: %v", err)
	}
	if res.Method == "advanced_ai_reconstruction" {
		t.Fatalf("fallback must not claim the advanced method")
	}
	if res.Reconstruction == nil || !res.Reconstruction.Applied {
		t.Fatalf("fallback runs the iterative path with reconstruction")
	}
	if res.Text != "hello" {
		t.Fatalf("fallback text: got=%q", res.Text)
	}
}
