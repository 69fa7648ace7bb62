package models

type Citation struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Page       int     `json:"page"`
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt,omitempty"`
}

type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
	// Fallback is set when generation failed and the answer was assembled
	// from the retrieved passages instead.
	Fallback bool `json:"fallback,omitempty"`
}
