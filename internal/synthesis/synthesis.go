// Package synthesis turns raw multi-layer recall results into a short
// narrative by calling an OpenAI-compatible chat completions API.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/recall-engine/internal/quality"
	"go.uber.org/zap"
)

const systemPrompt = "You are a memory synthesizer for a coding assistant. " +
	"Given retrieved memories grouped by layer, write a concise narrative " +
	"that connects them and answers the query. Mention causal links and " +
	"tradeoffs when the memories reveal them. Do not invent facts."

const maxItemsPerLayer = 5

// Config holds connection settings for the synthesis provider.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client calls a chat completions endpoint to synthesize recall output.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a synthesis client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Synthesize renders the layer results into a prompt and returns the
// model's narrative.
func (c *Client) Synthesize(ctx context.Context, layers map[string][]quality.ScoredItem, query string) (string, error) {
	prompt := renderPrompt(layers, query)

	reqBody := map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from provider")
	}

	narrative := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	c.logger.Debug("synthesis complete",
		zap.Int("layers", len(layers)),
		zap.Int("narrative_len", len(narrative)))
	return narrative, nil
}

// renderPrompt formats per-layer results into a readable block, highest
// scoring items first within each layer.
func renderPrompt(layers map[string][]quality.ScoredItem, query string) string {
	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nRetrieved memories:\n")
	for _, name := range names {
		items := layers[name]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n", name)
		limit := len(items)
		if limit > maxItemsPerLayer {
			limit = maxItemsPerLayer
		}
		for _, item := range items[:limit] {
			content := strings.TrimSpace(item.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "- (%.2f) %s\n", item.Adjusted, content)
		}
	}
	b.WriteString("\nSynthesize these into a short narrative answering the query.")
	return b.String()
}
