package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/arisofia/ocr-backend/internal/pkg/httpx"
	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/platform/ctxutil"
	"github.com/arisofia/ocr-backend/internal/types"
)

// Analysis features for the synchronous path.
const (
	FeatureTables = "TABLES"
	FeatureForms  = "FORMS"
)

const analyzeMaxAttempts = 3

// DocumentService runs synchronous structured analysis against objects
// already sitting in the store.
type DocumentService interface {
	AnalyzeSync(ctx context.Context, bucket, key string, features []string) (*types.AnalysisResult, error)
	Close() error
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient

	projectID   string
	location    string
	processorID string

	sleep func(d time.Duration)
}

func NewDocumentService(log *logger.Logger, projectID, location, processorID string) (DocumentService, error) {
	slog := log.With("service", "DocumentService")

	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(processorID) == "" {
		return nil, fmt.Errorf("document analysis requires GCP_PROJECT_ID and DOCAI_PROCESSOR_ID")
	}
	if strings.TrimSpace(location) == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	ctx := context.Background()
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document analysis initialized", "endpoint", endpoint, "processor", processorID)

	return &documentService{
		log:         slog,
		docClient:   c,
		projectID:   projectID,
		location:    location,
		processorID: processorID,
		sleep:       time.Sleep,
	}, nil
}

func (s *documentService) Close() error {
	if s.docClient != nil {
		return s.docClient.Close()
	}
	return nil
}

// AnalyzeSync processes gs://bucket/key through the configured processor.
// Transient provider errors are retried with exponential backoff; running
// out of attempts reports "max retry threshold reached" so callers can tell
// exhaustion apart from a hard rejection.
func (s *documentService) AnalyzeSync(ctx context.Context, bucket, key string, features []string) (*types.AnalysisResult, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(features) == 0 {
		features = []string{FeatureTables, FeatureForms}
	}
	uri := fmt.Sprintf("gs://%s/%s", bucket, key)

	req := &documentaipb.ProcessRequest{
		Name: s.processorName(),
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   uri,
				MimeType: mimeTypeForKey(key),
			},
		},
	}

	var resp *documentaipb.ProcessResponse
	var lastErr error
	for attempt := 1; attempt <= analyzeMaxAttempts; attempt++ {
		resp, lastErr = s.docClient.ProcessDocument(ctx, req)
		if lastErr == nil {
			break
		}
		if !httpx.IsRetryableError(lastErr) || attempt == analyzeMaxAttempts {
			break
		}
		delay := httpx.ExpBackoff(attempt, 500*time.Millisecond, 5*time.Second)
		s.log.Warn("Document analysis failed, retrying",
			"uri", uri, "attempt", attempt, "delay", delay, "error", lastErr)
		s.sleep(delay)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retry threshold reached: %w", lastErr)
	}
	if resp == nil || resp.Document == nil {
		return &types.AnalysisResult{RequestID: ctxutil.RequestID(ctx)}, nil
	}

	out := buildAnalysisResult(resp.Document, features)
	out.RequestID = ctxutil.RequestID(ctx)
	return out, nil
}

func (s *documentService) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		s.projectID, s.location, s.processorID)
}

func mimeTypeForKey(key string) string {
	switch strings.ToLower(keyExt(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/pdf"
	}
}

func keyExt(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[i:]
	}
	return ""
}

func buildAnalysisResult(doc *documentaipb.Document, features []string) *types.AnalysisResult {
	out := &types.AnalysisResult{
		Text:  strings.TrimSpace(doc.Text),
		Pages: len(doc.Pages),
	}

	wantTables := false
	wantForms := false
	for _, f := range features {
		switch strings.ToUpper(f) {
		case FeatureTables:
			wantTables = true
		case FeatureForms:
			wantForms = true
		}
	}

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		if wantTables {
			for _, table := range p.Tables {
				md := strings.TrimSpace(tableToMarkdown(doc.Text, table))
				if md != "" {
					out.Tables = append(out.Tables, md)
				}
			}
		}
		if wantForms {
			for _, ff := range p.FormFields {
				if ff == nil {
					continue
				}
				k := ""
				v := ""
				if ff.FieldName != nil && ff.FieldName.TextAnchor != nil {
					k = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldName.TextAnchor))
				}
				if ff.FieldValue != nil && ff.FieldValue.TextAnchor != nil {
					v = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldValue.TextAnchor))
				}
				if k == "" && v == "" {
					continue
				}
				out.FormFields = append(out.FormFields, strings.TrimSpace(fmt.Sprintf("%s: %s", k, v)))
			}
		}
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}

	header := []string{}
	if len(t.HeaderRows) > 0 && t.HeaderRows[0] != nil {
		header = tableRowToCells(full, t.HeaderRows[0])
	}
	bodyRows := append([]*documentaipb.Document_Page_Table_TableRow{}, t.BodyRows...)

	if len(header) == 0 && len(bodyRows) > 0 && bodyRows[0] != nil {
		header = tableRowToCells(full, bodyRows[0])
		bodyRows = bodyRows[1:]
	}
	if len(header) == 0 {
		return ""
	}

	rows := [][]string{header}
	for _, r := range bodyRows {
		if r == nil {
			continue
		}
		rows = append(rows, tableRowToCells(full, r))
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	if maxCols == 0 {
		return ""
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}

	var out strings.Builder
	out.WriteString("| ")
	out.WriteString(strings.Join(escapePipes(rows[0]), " | "))
	out.WriteString(" |\n| ")
	sep := make([]string, maxCols)
	for i := 0; i < maxCols; i++ {
		sep[i] = "---"
	}
	out.WriteString(strings.Join(sep, " | "))
	out.WriteString(" |\n")

	for i := 1; i < len(rows); i++ {
		out.WriteString("| ")
		out.WriteString(strings.Join(escapePipes(rows[i]), " | "))
		out.WriteString(" |\n")
	}
	return out.String()
}

func tableRowToCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil || c.Layout.TextAnchor == nil {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor)))
	}
	return out
}

func escapePipes(row []string) []string {
	out := make([]string, len(row))
	for i, s := range row {
		out[i] = strings.ReplaceAll(s, "|", "\\|")
	}
	return out
}
