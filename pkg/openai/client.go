package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	token      string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    "https://api.openai.com/v1",
		model:      "gpt-4o-mini",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, endpoint string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("openai: unexpected status " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ChatCompletion sends a single-message chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":    c.model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	var respBody struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.do(ctx, "/chat/completions", reqBody, &respBody); err != nil {
		return "", err
	}
	if len(respBody.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return respBody.Choices[0].Message.Content, nil
}

// SCQR is a structured article summary: Situation, Complication, Question,
// Resolution.
type SCQR struct {
	Situation    string `json:"situation"`
	Complication string `json:"complication"`
	Question     string `json:"question"`
	Resolution   string `json:"resolution"`
}

const scqrPrompt = `Summarize the following article as JSON with exactly these keys: "situation", "complication", "question", "resolution". Each value is 1-2 sentences. Answer with JSON only, no prose.

Title: %s

%s`

// SCQRSummary asks the model for a structured summary of one article. The
// model sometimes wraps its JSON in markdown fences, which are stripped
// before decoding.
func (c *Client) SCQRSummary(ctx context.Context, title, text string) (*SCQR, error) {
	raw, err := c.ChatCompletion(ctx, fmt.Sprintf(scqrPrompt, title, text))
	if err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out SCQR
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("openai: decode summary: %w", err)
	}
	return &out, nil
}
