package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SummaryRequest configures the optional LLM summary of a run.
type SummaryRequest struct {
	Model  string
	APIKey string
}

// Summarize asks an LLM for a short operator-facing recap of a simulation
// run. Purely cosmetic; any failure is reported, never fatal.
func Summarize(ctx context.Context, s Summary, duration time.Duration, req SummaryRequest) (string, error) {
	if req.APIKey == "" {
		return "", errors.New("missing API key")
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini"
	}
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a CRM operations analyst summarizing an AI-agent guardrail test run."},
			{"role": "user", "content": fmt.Sprintf(
				"Executed: %d (replays: %d), Denied: %d by reason %v, Consents granted: %d, Transport failures: %d, Window: %s. Provide a concise executive summary (max 3 sentences).",
				s.Executed, s.Replayed, s.DeniedTotal, s.Denied, s.Consents, s.Failures, duration)},
		},
		"temperature": 0.2,
	}
	buf, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai error: %s", resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}
