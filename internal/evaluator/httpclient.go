package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/classworks/assess-backend/internal/model"
)

// HTTPClient calls the external evaluator service over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient with a per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	QuestionID string             `json:"question_id"`
	Type       model.QuestionType `json:"type"`
	Points     float64            `json:"points"`
	Answer     json.RawMessage    `json:"answer"`
}

type evaluateResponse struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

// Evaluate posts one (question, answer) pair and returns the judgment.
func (c *HTTPClient) Evaluate(ctx context.Context, q model.Question, answer json.RawMessage) (Result, error) {
	body, err := json.Marshal(evaluateRequest{
		QuestionID: q.QuestionID,
		Type:       q.Type,
		Points:     q.Points,
		Answer:     answer,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode evaluate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %s: %w", q.QuestionID, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return Result{}, fmt.Errorf("evaluate %s: %s", q.QuestionID, res.Status)
	}

	var out evaluateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode evaluate response: %w", err)
	}

	return Result{IsCorrect: out.IsCorrect, Feedback: out.Feedback}, nil
}
