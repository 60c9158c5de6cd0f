package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tickethunter/internal/config"
	"tickethunter/internal/domain"
	"tickethunter/internal/ports"
)

const (
	refineTemperature   = 0.3
	classifyTemperature = 0.1
)

// Client talks to an OpenAI-compatible chat-completions endpoint (Zhipu GLM
// by default) and implements both the keyword refiner and the ticket
// classifier on top of it.
type Client struct {
	endpoint        string
	model           string
	apiKey          string
	refineTimeout   time.Duration
	classifyTimeout time.Duration
	httpClient      *http.Client
	logger          *slog.Logger
}

var _ ports.KeywordRefiner = (*Client)(nil)
var _ ports.TicketClassifier = (*Client)(nil)

// NewClient builds a client from configuration. A nil httpClient gets a
// default whose timeout covers the longest (classify) call.
func NewClient(cfg config.LLMConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	classifyTimeout := cfg.ClassifyTimeout()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: classifyTimeout + 5*time.Second}
	}
	return &Client{
		endpoint:        cfg.Endpoint,
		model:           cfg.Model,
		apiKey:          cfg.APIKey,
		refineTimeout:   cfg.RefineTimeout(),
		classifyTimeout: classifyTimeout,
		httpClient:      httpClient,
		logger:          logger,
	}
}

// Refine asks the model for a search-friendly rewrite of the keyword. It
// fails open: any error or empty reply returns the original keyword.
func (c *Client) Refine(ctx context.Context, keyword string) string {
	ctx, cancel := context.WithTimeout(ctx, c.refineTimeout)
	defer cancel()

	reply, err := c.chat(ctx, refinePrompt(keyword), refineTemperature)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("keyword refinement failed, using original", "keyword", keyword, "error", err)
		}
		return keyword
	}

	refined := strings.TrimSpace(reply)
	if refined == "" {
		return keyword
	}
	return refined
}

// Classify asks the model whether the note text is a ticket-resale listing.
// It fails closed: the caller decides how to isolate the failure.
func (c *Client) Classify(ctx context.Context, text string) (domain.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.classifyTimeout)
	defer cancel()

	reply, err := c.chat(ctx, analysisPrompt(text), classifyTemperature)
	if err != nil {
		return domain.Verdict{}, err
	}

	raw, err := extractJSON(reply)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("classifier reply: %w", err)
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return verdict, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("llm client misconfigured")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON cuts the first top-level JSON object out of a model reply
// that may wrap it in prose or code fences.
func extractJSON(reply string) (string, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return reply[start : end+1], nil
}
