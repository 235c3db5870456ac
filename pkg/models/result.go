package models

import "time"

// ProcessedContent holds the converted document in every output format the
// service produces.
type ProcessedContent struct {
	Markdown string         `json:"markdown"`
	HTML     string         `json:"html"`
	JSON     map[string]any `json:"json"`
}

// DocumentMetadata describes how a document was processed.
type DocumentMetadata struct {
	Pages            int     `json:"pages"`
	ProcessingTime   float64 `json:"processing_time"`
	ElementsDetected int     `json:"elements_detected"`
	ModelUsed        string  `json:"model_used"`
	FileSize         int64   `json:"file_size"`
	FileType         string  `json:"file_type"`
}

// ResultDocument is the full conversion result, available once a job
// reaches completed.
type ResultDocument struct {
	JobID            string           `json:"job_id"`
	OriginalFilename string           `json:"original_filename"`
	Content          ProcessedContent `json:"processed_content"`
	Metadata         DocumentMetadata `json:"metadata"`
	CreatedAt        time.Time        `json:"created_at"`
}
