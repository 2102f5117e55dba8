package models

import (
	"strconv"
	"time"
)

// Document is an uploaded file together with its indexing lifecycle state.
type Document struct {
	ID                 string     `bson:"_id" json:"id"`
	UserID             string     `bson:"user_id" json:"user_id"`
	Title              string     `bson:"title" json:"title"`
	FilePath           string     `bson:"file_path" json:"file_path"` // Storage path
	MimeType           string     `bson:"mime_type" json:"mime_type"`
	FileSizeBytes      int64      `bson:"file_size_bytes" json:"file_size_bytes"`
	Status             string     `bson:"status" json:"status"` // uploaded, processing, ready, failed
	ProcessingProgress float64    `bson:"processing_progress" json:"processing_progress"`
	TotalChunks        int        `bson:"total_chunks" json:"total_chunks"`
	ErrorMessage       string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Summary            string     `bson:"summary,omitempty" json:"summary,omitempty"`
	ContentText        string     `bson:"content_text,omitempty" json:"-"`
	UploadedAt         time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	IndexedAt          *time.Time `bson:"indexed_at,omitempty" json:"indexed_at,omitempty"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time `bson:"deleted_at,omitempty" json:"-"`
}

// Document lifecycle status constants
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// IsReady reports whether the document can serve retrieval.
func (d *Document) IsReady() bool {
	return d.Status == StatusReady
}

// Chunk is an immutable slice of a document's text with its embedding.
type Chunk struct {
	ID         string        `bson:"_id" json:"id"`
	DocumentID string        `bson:"document_id" json:"document_id"`
	Index      int           `bson:"chunk_index" json:"chunk_index"`
	Text       string        `bson:"chunk_text" json:"chunk_text"`
	Metadata   ChunkMetadata `bson:"metadata" json:"metadata"`
	Embedding  []float32     `bson:"embedding,omitempty" json:"-"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
}

// ChunkMetadata records where a chunk came from in the source text.
// EndWord is exclusive. Page is 1-based and zero when unknown.
type ChunkMetadata struct {
	StartWord int `bson:"start_word" json:"start_word"`
	EndWord   int `bson:"end_word" json:"end_word"`
	Page      int `bson:"page,omitempty" json:"page,omitempty"`
}

// Label is the human-readable citation for a chunk: "Page N" when the page
// is known, "Section N" (1-based chunk index) otherwise.
func (c *Chunk) Label() string {
	if c.Metadata.Page > 0 {
		return "Page " + strconv.Itoa(c.Metadata.Page)
	}
	return "Section " + strconv.Itoa(c.Index+1)
}

// ChunkingConfig defines how text should be chunked
type ChunkingConfig struct {
	WindowWords  int `json:"window_words"`
	OverlapWords int `json:"overlap_words"`
	MaxChars     int `json:"max_chars"`
}

// ScoredChunk is a nearest-neighbour hit; lower Distance is closer.
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// ExtractionResult is the plain text pulled from a file.
type ExtractionResult struct {
	Text   string `json:"text"`
	Method string `json:"method"`
	// PageStarts holds, for paged formats, the word offset at which each
	// page begins within Text. Empty for unpaged formats.
	PageStarts []int `json:"page_starts,omitempty"`
}

// ExtractionMethod represents different extraction methods
const (
	ExtractionMethodGoPDF       = "go-pdf"
	ExtractionMethodPoppler     = "poppler"
	ExtractionMethodOCR         = "ocr"
	ExtractionMethodDOCX        = "docx"
	ExtractionMethodLegacy      = "legacy-office"
	ExtractionMethodSpreadsheet = "spreadsheet"
	ExtractionMethodPlainText   = "plain-text"
	ExtractionMethodHTML        = "html"
	ExtractionMethodRTF         = "rtf"
	ExtractionMethodFallback    = "fallback"
)
