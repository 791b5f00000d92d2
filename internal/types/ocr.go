package types

import "encoding/json"

// IterationRecord captures one pass of the iterative engine.
type IterationRecord struct {
	Iteration  int     `json:"iteration"`
	Method     string  `json:"method,omitempty"`
	TextLength int     `json:"text_length"`
	Confidence float64 `json:"confidence"`
	Preview    string  `json:"preview_text,omitempty"`
	Error      string  `json:"error,omitempty"`
}

const (
	MethodFullPage    = "full-page"
	MethodRegionBased = "region-based"
)

// LayoutAnalysis summarizes the page classification for responses.
type LayoutAnalysis struct {
	Type    string `json:"type"`
	Regions int    `json:"regions"`
}

// ReconstructionInfo describes an image-domain reconstruction pass.
type ReconstructionInfo struct {
	Applied bool                   `json:"applied"`
	Source  string                 `json:"source,omitempty"`
	Model   string                 `json:"model,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// EngineResult is the engine's response for both the standard and the
// advanced path.
type EngineResult struct {
	Text           string              `json:"text"`
	Confidence     float64             `json:"confidence"`
	Iterations     []IterationRecord   `json:"iterations,omitempty"`
	Success        bool                `json:"success"`
	Method         string              `json:"method,omitempty"`
	LayoutAnalysis *LayoutAnalysis     `json:"layout_analysis,omitempty"`
	Reconstruction *ReconstructionInfo `json:"reconstruction,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// ExtractionResponse is the engine result enriched by the processor.
type ExtractionResponse struct {
	EngineResult
	Filename       string  `json:"filename"`
	ProcessingTime float64 `json:"processing_time"`
	StorageKey     *string `json:"storage_key"`
	RequestID      string  `json:"request_id"`
}

// ReconResult is a vision provider's reconstruction output.
type ReconResult struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// LearnedPattern links a document type to prior extraction quality signals.
type LearnedPattern struct {
	DocType       string                 `json:"doc_type"`
	FontMetadata  map[string]interface{} `json:"font_metadata"`
	AccuracyScore float64                `json:"accuracy_score"`
	SchemaVersion int                    `json:"version"`
	CreatedAt     string                 `json:"created_at,omitempty"`
}

// AnalysisResult is the synchronous structured-analysis payload.
type AnalysisResult struct {
	Text       string   `json:"text"`
	Tables     []string `json:"tables,omitempty"`
	FormFields []string `json:"form_fields,omitempty"`
	Pages      int      `json:"pages"`
	RequestID  string   `json:"requestId,omitempty"`
}

// AsyncOCRResult is the aggregated output of an asynchronous detection job.
type AsyncOCRResult struct {
	Text          string  `json:"text"`
	Pages         int     `json:"pages"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Job statuses.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// JobRecord is the durable job state stored under job:<id>. The queue holds
// only ids.
type JobRecord struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	ImageURL     string          `json:"image_url,omitempty"`
	ImageBytes   string          `json:"image_bytes,omitempty"`
	ImagePath    string          `json:"image_path,omitempty"`
	DocumentType string          `json:"document_type,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	FailedAt     string          `json:"failed_at,omitempty"`
}

// StorageEvent is the object-store notification batch consumed by the
// event-trigger handler. The field names follow the S3-style notification
// JSON emitted by S3-compatible stores and relays.
type StorageEvent struct {
	Records []StorageEventRecord `json:"Records"`
}

type StorageEventRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// BatchResult is the event-trigger batch outcome.
type BatchResult struct {
	Status string `json:"status"`
	Failed int    `json:"failed,omitempty"`
}
