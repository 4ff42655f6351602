package evaluator

import (
	"context"
	"encoding/json"

	"github.com/classworks/assess-backend/internal/model"
)

// Result is the judgment returned for a single answer.
type Result struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback,omitempty"`
}

// Evaluator judges one answer to one question. The service behind it is
// opaque; only correctness and feedback come back.
type Evaluator interface {
	Evaluate(ctx context.Context, q model.Question, answer json.RawMessage) (Result, error)
}
