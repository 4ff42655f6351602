package gradebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Score is one gradebook entry: a final score against a course item.
type Score struct {
	StudentKey string  `json:"student_key"`
	CourseID   string  `json:"course_id"`
	ItemID     string  `json:"item_id"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
}

// Client posts scores to the external gradebook. The gradebook is a
// write-only sink; nothing is ever read back.
type Client interface {
	PostScore(ctx context.Context, score Score) error
}

// HTTPClient is the production gradebook client.
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

// PostScore records one score against a course item.
func (c *HTTPClient) PostScore(ctx context.Context, score Score) error {
	body, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scores", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post score: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("post score: %s", res.Status)
	}
	return nil
}
