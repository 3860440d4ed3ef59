// Package agent exposes retrieval to the voice agent: the knowledge-base tool
// the LLM calls during a conversation, and the session lifecycle around it.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/retrieval"
)

// ToolName is the function name the LLM sees.
const ToolName = "search_knowledge_base"

// Retriever is the slice of the retrieval engine the tool needs.
type Retriever interface {
	Retrieve(ctx context.Context, q *retrieval.Query) (*models.RetrievalResult, error)
}

// Notifier receives the richer retrieval metadata on a side channel, so the
// client can show sources while the LLM only gets the compact results.
type Notifier interface {
	Notify(ctx context.Context, event *ToolEvent)
}

// ToolEvent is the side-channel payload emitted after each tool call.
type ToolEvent struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id,omitempty"`
	Metadata  models.RetrievalMetadata `json:"metadata"`
}

// ToolArgs is the argument payload the LLM sends.
type ToolArgs struct {
	Query string `json:"query"`
}

// ToolResult is what goes back into the LLM context. Results is never nil;
// a failed or empty retrieval is an empty list, not an error, because a tool
// error would derail the conversation.
type ToolResult struct {
	Results []ToolResultItem `json:"results"`
}

// ToolResultItem is one retrieved chunk, trimmed to what the LLM needs.
type ToolResultItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// SearchTool adapts the retrieval engine to an LLM tool call. The equipment
// and tenant scope is bound at session start, not taken from the LLM.
type SearchTool struct {
	retriever   Retriever
	equipmentID string
	tenantID    string
	k           int
	sessionID   string
	notifier    Notifier // optional
	logger      *zap.Logger
}

// NewSearchTool creates a tool bound to one session's scope. notifier may be
// nil when no side channel is connected.
func NewSearchTool(retriever Retriever, equipmentID, tenantID string, k int, sessionID string, notifier Notifier, logger *zap.Logger) *SearchTool {
	return &SearchTool{
		retriever:   retriever,
		equipmentID: equipmentID,
		tenantID:    tenantID,
		k:           k,
		sessionID:   sessionID,
		notifier:    notifier,
		logger:      logger,
	}
}

// Name returns the tool's function name.
func (t *SearchTool) Name() string { return ToolName }

// Description returns the tool description handed to the LLM.
func (t *SearchTool) Description() string {
	return "Search the equipment knowledge base for relevant documentation. " +
		"Use this before answering technical questions about the equipment."
}

// Execute runs one tool call. It never returns an error: malformed arguments,
// empty queries, and retrieval failures all degrade to empty results.
func (t *SearchTool) Execute(ctx context.Context, rawArgs json.RawMessage) *ToolResult {
	empty := &ToolResult{Results: []ToolResultItem{}}

	var args ToolArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		if t.logger != nil {
			t.logger.Warn("tool call with malformed arguments",
				zap.String("session_id", t.sessionID), zap.Error(err))
		}
		return empty
	}
	if strings.TrimSpace(args.Query) == "" {
		return empty
	}

	res, err := t.retriever.Retrieve(ctx, &retrieval.Query{
		Query:       args.Query,
		K:           t.k,
		EquipmentID: t.equipmentID,
		TenantID:    t.tenantID,
	})
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("knowledge base retrieval failed, returning empty results",
				zap.String("session_id", t.sessionID),
				zap.String("query", args.Query),
				zap.Error(err))
		}
		return empty
	}

	items := make([]ToolResultItem, len(res.Metadata.Chunks))
	for i, ch := range res.Metadata.Chunks {
		items[i] = ToolResultItem{ID: ch.ChunkID, Content: res.Data[i].Text}
	}
	if t.notifier != nil {
		t.notifier.Notify(ctx, &ToolEvent{
			Type:      "knowledge_base_results",
			SessionID: t.sessionID,
			Metadata:  res.Metadata,
		})
	}
	return &ToolResult{Results: items}
}
