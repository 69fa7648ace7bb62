package models

// Chunk is a window of a document's text. Start and End are byte offsets
// into Document.Text and Text == Document.Text[Start:End].
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Page       int       `json:"page"`
	Start      int       `json:"char_start"`
	End        int       `json:"char_end"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
