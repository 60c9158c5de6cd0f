package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tickethunter/internal/config"
)

type rpcCall struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func feedsText(t *testing.T, batch any) string {
	t.Helper()
	raw, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal feeds: %v", err)
	}
	return string(raw)
}

// newProviderServer serves the initialize/tools-call handshake. The session
// handed out by initialize must come back on the tool call.
func newProviderServer(t *testing.T, feeds string) (*httptest.Server, *[]rpcCall) {
	t.Helper()

	const session = "session-123"
	calls := &[]rpcCall{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode rpc call: %v", err)
		}
		*calls = append(*calls, call)

		w.Header().Set("Content-Type", "application/json")
		switch call.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", session)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": call.ID,
				"result": map[string]any{"protocolVersion": protocolVersion},
			})
		case "tools/call":
			if got := r.Header.Get("Mcp-Session-Id"); got != session {
				t.Errorf("tool call carried session %q, want %q", got, session)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": call.ID,
				"result": map[string]any{
					"content": []map[string]string{{"type": "text", "text": feeds}},
				},
			})
		default:
			t.Errorf("unexpected rpc method %q", call.Method)
		}
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func TestSearchParsesNoteFeeds(t *testing.T) {
	t.Parallel()

	feeds := feedsText(t, map[string]any{
		"feeds": []map[string]any{
			{
				"id": "note-1", "modelType": "note",
				"noteCard": map[string]string{"displayTitle": "X Concert tickets for sale"},
			},
			{
				"id": "ad-1", "modelType": "ads",
				"noteCard": map[string]string{"displayTitle": "sponsored"},
			},
			{
				"id": "note-2", "modelType": "note",
				"noteCard": map[string]string{"displayTitle": "<em>two</em> tickets left"},
			},
		},
	})
	server, calls := newProviderServer(t, feeds)

	client := NewClient(config.MCPConfig{URL: server.URL}, server.Client(), nil)
	notes, err := client.Search(context.Background(), "X concert tickets")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2 (non-note feeds skipped)", len(notes))
	}
	if notes[0].ID != "note-1" || notes[1].ID != "note-2" {
		t.Fatalf("notes out of provider order: %v, %v", notes[0].ID, notes[1].ID)
	}
	if notes[0].URL != noteURLPrefix+"note-1" {
		t.Fatalf("note URL = %q", notes[0].URL)
	}
	if notes[1].Description != "two tickets left" {
		t.Fatalf("markup not stripped: %q", notes[1].Description)
	}

	if len(*calls) != 2 {
		t.Fatalf("provider saw %d calls, want initialize + tools/call", len(*calls))
	}
	var params struct {
		Name      string `json:"name"`
		Arguments struct {
			Keyword string `json:"keyword"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal((*calls)[1].Params, &params); err != nil {
		t.Fatalf("decode tool params: %v", err)
	}
	if params.Name != searchFeedsTool || params.Arguments.Keyword != "X concert tickets" {
		t.Fatalf("tool call = %+v", params)
	}
}

func TestSearchAcceptsBareFeedArray(t *testing.T) {
	t.Parallel()

	feeds := feedsText(t, []map[string]any{
		{"id": "note-9", "modelType": "note", "noteCard": map[string]string{"displayTitle": "spare ticket"}},
	})
	server, _ := newProviderServer(t, feeds)

	client := NewClient(config.MCPConfig{URL: server.URL}, server.Client(), nil)
	notes, err := client.Search(context.Background(), "ticket")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "note-9" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestSearchFailsOnRPCError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"login required"}}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(config.MCPConfig{URL: server.URL}, server.Client(), nil)
	if _, err := client.Search(context.Background(), "ticket"); err == nil {
		t.Fatal("Search succeeded despite a provider error")
	}
}

func TestSearchFailsOnHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := NewClient(config.MCPConfig{URL: server.URL}, server.Client(), nil)
	if _, err := client.Search(context.Background(), "ticket"); err == nil {
		t.Fatal("Search succeeded despite a transport error")
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"  plain title  ", "plain title"},
		{"<p>two <b>tickets</b></p>", "two tickets"},
		{"price < 200", "price < 200"},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
