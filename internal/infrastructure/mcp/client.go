package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tickethunter/internal/config"
	"tickethunter/internal/domain"
	"tickethunter/internal/ports"
)

const (
	protocolVersion  = "2025-06-18"
	sessionHeader    = "Mcp-Session-Id"
	noteURLPrefix    = "https://www.xiaohongshu.com/explore/"
	searchFeedsTool  = "search_feeds"
	noteModelType    = "note"
	defaultSortOrder = "最新"
)

// Client is a JSON-RPC 2.0 client for the xiaohongshu-mcp note-search
// service. Each Search opens a fresh session: initialize, capture the
// session header, then call the search_feeds tool.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	requestID  atomic.Int64
}

var _ ports.NoteSource = (*Client)(nil)

// NewClient builds a client from configuration. A nil httpClient gets a
// default sized for the provider's background-crawl latency.
func NewClient(cfg config.MCPConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	timeout := cfg.Timeout()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout + 10*time.Second}
	}
	return &Client{
		url:        cfg.URL,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolResult struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type feedBatch struct {
	Feeds []feed `json:"feeds"`
}

type feed struct {
	ID        string `json:"id"`
	ModelType string `json:"modelType"`
	NoteCard  struct {
		DisplayTitle string `json:"displayTitle"`
	} `json:"noteCard"`
}

// Search runs a keyword search against the provider and returns the note
// batch in provider order. It fails closed on any provider or transport
// error.
func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Note, error) {
	if c.url == "" {
		return nil, fmt.Errorf("mcp client misconfigured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	raw, err := c.callTool(ctx, session, searchFeedsTool, map[string]any{
		"keyword": keyword,
		"filters": map[string]string{
			"location":     "不限",
			"note_type":    "图文",
			"publish_time": "不限",
			"search_scope": "未看过",
			"sort_by":      defaultSortOrder,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", searchFeedsTool, err)
	}

	notes, err := parseNotes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s result: %w", searchFeedsTool, err)
	}

	if c.logger != nil {
		c.logger.Info("provider search done", "keyword", keyword, "notes", len(notes))
	}
	return notes, nil
}

func (c *Client) initialize(ctx context.Context) (string, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    "tickethunter",
			"version": "1.0.0",
		},
	}

	resp, header, err := c.post(ctx, "", rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "initialize",
		Params:  params,
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return header.Get(sessionHeader), nil
}

func (c *Client) callTool(ctx context.Context, session, name string, arguments map[string]any) (json.RawMessage, error) {
	resp, _, err := c.post(ctx, session, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "tools/call",
		Params: map[string]any{
			"name":      name,
			"arguments": arguments,
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("empty rpc result")
	}
	return resp.Result, nil
}

func (c *Client) post(ctx context.Context, session string, payload rpcRequest) (*rpcResponse, http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rpc payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("mcp error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("decode rpc response: %w", err)
	}
	return &parsed, resp.Header, nil
}

// parseNotes unwraps result.content[0].text, which carries the feed batch
// as a JSON string, and converts note-type feeds to domain notes.
func parseNotes(raw json.RawMessage) ([]domain.Note, error) {
	var result toolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	if len(result.Content) == 0 {
		return nil, nil
	}

	text := result.Content[0].Text
	var batch feedBatch
	if err := json.Unmarshal([]byte(text), &batch); err != nil {
		// Some provider builds return a bare feed array.
		if listErr := json.Unmarshal([]byte(text), &batch.Feeds); listErr != nil {
			return nil, fmt.Errorf("decode feeds: %w", err)
		}
	}

	notes := make([]domain.Note, 0, len(batch.Feeds))
	for _, f := range batch.Feeds {
		if f.ModelType != noteModelType || f.ID == "" {
			continue
		}
		notes = append(notes, domain.Note{
			ID:          f.ID,
			Description: normalizeText(f.NoteCard.DisplayTitle),
			URL:         noteURLPrefix + f.ID,
			CreatedAt:   time.Now(),
		})
	}
	return notes, nil
}

// normalizeText strips markup fragments that occasionally leak into
// provider titles so the classifier sees plain text.
func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
