package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fieldline/voicekb/internal/models"
	"github.com/fieldline/voicekb/internal/retrieval"
)

type stubRetriever struct {
	lastQuery *retrieval.Query
	result    *models.RetrievalResult
	err       error
}

func (s *stubRetriever) Retrieve(ctx context.Context, q *retrieval.Query) (*models.RetrievalResult, error) {
	s.lastQuery = q
	return s.result, s.err
}

type captureNotifier struct {
	events []*ToolEvent
}

func (n *captureNotifier) Notify(ctx context.Context, e *ToolEvent) {
	n.events = append(n.events, e)
}

func okResult() *models.RetrievalResult {
	return &models.RetrievalResult{
		Data: []models.ChunkContent{
			{Text: "Prime the pump first.", FileName: "m.txt", Score: 0.9},
		},
		Metadata: models.RetrievalMetadata{
			Query: "how to start", K: 5, ChunksRetrieved: 1,
			Chunks: []models.ChunkMetadata{
				{ChunkID: "c1", DocumentID: "d1", EquipmentID: "eq1", Score: 0.9, FileName: "m.txt"},
			},
		},
	}
}

func TestSearchTool_Execute(t *testing.T) {
	stub := &stubRetriever{result: okResult()}
	notifier := &captureNotifier{}
	tool := NewSearchTool(stub, "eq1", "t1", 5, "sess1", notifier, nil)

	if tool.Name() != "search_knowledge_base" {
		t.Errorf("name = %s", tool.Name())
	}

	res := tool.Execute(context.Background(), json.RawMessage(`{"query":"how to start"}`))
	if len(res.Results) != 1 {
		t.Fatalf("got %d results", len(res.Results))
	}
	if res.Results[0].ID != "c1" || res.Results[0].Content != "Prime the pump first." {
		t.Errorf("result: %+v", res.Results[0])
	}

	// Scope comes from the session binding, not from the LLM arguments.
	if stub.lastQuery.EquipmentID != "eq1" || stub.lastQuery.TenantID != "t1" || stub.lastQuery.K != 5 {
		t.Errorf("query scope: %+v", stub.lastQuery)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("got %d side-channel events", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.Type != "knowledge_base_results" || ev.SessionID != "sess1" {
		t.Errorf("event: %+v", ev)
	}
	if len(ev.Metadata.Chunks) != 1 || ev.Metadata.Chunks[0].DocumentID != "d1" {
		t.Errorf("event metadata should carry the full chunk detail: %+v", ev.Metadata)
	}
}

func TestSearchTool_DegradesOnError(t *testing.T) {
	stub := &stubRetriever{err: errors.New("index unavailable")}
	notifier := &captureNotifier{}
	tool := NewSearchTool(stub, "eq1", "t1", 5, "sess1", notifier, nil)

	res := tool.Execute(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if res == nil || res.Results == nil {
		t.Fatal("result must never be nil")
	}
	if len(res.Results) != 0 {
		t.Errorf("got %d results, want 0", len(res.Results))
	}
	if len(notifier.events) != 0 {
		t.Error("no event should fire on failure")
	}
}

func TestSearchTool_MalformedAndEmptyArgs(t *testing.T) {
	stub := &stubRetriever{result: okResult()}
	tool := NewSearchTool(stub, "eq1", "t1", 5, "sess1", nil, nil)

	for _, raw := range []string{`not json`, `{"query":""}`, `{"query":"   "}`, `{}`} {
		res := tool.Execute(context.Background(), json.RawMessage(raw))
		if len(res.Results) != 0 {
			t.Errorf("args %q: got %d results, want 0", raw, len(res.Results))
		}
	}
	if stub.lastQuery != nil {
		t.Error("retriever should not be called without a usable query")
	}
}

func TestSearchTool_MarshalShape(t *testing.T) {
	stub := &stubRetriever{result: okResult()}
	tool := NewSearchTool(stub, "eq1", "t1", 5, "sess1", nil, nil)

	res := tool.Execute(context.Background(), json.RawMessage(`{"query":"q"}`))
	out, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"results":[{"id":"c1","content":"Prime the pump first."}]}`
	if string(out) != want {
		t.Errorf("payload = %s, want %s", out, want)
	}
}
