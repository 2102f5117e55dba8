package models

// Source cites one retrieved chunk in an answer.
type Source struct {
	ChunkID   string  `json:"chunkId"`
	Excerpt   string  `json:"excerpt"`
	PageLabel string  `json:"pageLabel"`
	DocTitle  string  `json:"docTitle"`
	Distance  float64 `json:"distance"`
}

// RAGAnswer is the result of answering a question against one document.
type RAGAnswer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// RegisterDocumentRequest registers a file that is already in storage.
type RegisterDocumentRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Title    string `json:"title"`
	FilePath string `json:"file_path" binding:"required"`
	MimeType string `json:"mime_type"`
}

// DocumentChatRequest is a question asked against one indexed document.
type DocumentChatRequest struct {
	Question string `json:"question" binding:"required"`
}

// CoachChatRequest is a free-form message for the general coach.
type CoachChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// QueuedResponse acknowledges that indexing was scheduled.
type QueuedResponse struct {
	Status   string    `json:"status"`
	TaskID   string    `json:"task_id,omitempty"`
	Document *Document `json:"document,omitempty"`
}
