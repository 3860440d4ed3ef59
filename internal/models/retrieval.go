package models

// ChunkContent is the compact view of a retrieved chunk handed to the LLM context.
type ChunkContent struct {
	Text     string  `json:"text"`
	FileName string  `json:"file_name,omitempty"`
	Score    float64 `json:"score"`
}

// ChunkMetadata is the fuller view of the same chunk for client display and audit.
type ChunkMetadata struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	EquipmentID string  `json:"equipment_id"`
	TenantID    string  `json:"tenant_id,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	Score       float64 `json:"score"`
	FileName    string  `json:"file_name"`
}

// RetrievalMetadata describes a retrieval call: the query, the requested k,
// how many chunks came back, and the scope that was applied.
type RetrievalMetadata struct {
	Query           string          `json:"query"`
	K               int             `json:"k"`
	ChunksRetrieved int             `json:"chunks_retrieved"`
	EquipmentID     string          `json:"equipment_id,omitempty"`
	TenantID        string          `json:"tenant_id,omitempty"`
	Chunks          []ChunkMetadata `json:"chunks"`
}

// RetrievalResult pairs the compact chunk contents with their metadata.
// len(Data) == len(Metadata.Chunks) and both are ordered by descending score.
type RetrievalResult struct {
	Data     []ChunkContent    `json:"data"`
	Metadata RetrievalMetadata `json:"metadata"`
}
