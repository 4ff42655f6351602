package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/classworks/assess-backend/internal/model"
)

func TestHTTPClientEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/evaluate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			QuestionID string          `json:"question_id"`
			Type       string          `json:"type"`
			Points     float64         `json:"points"`
			Answer     json.RawMessage `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.QuestionID != "q1" || req.Type != "short_answer" || req.Points != 10 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_correct": true,
			"feedback":   "well reasoned",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 2*time.Second)
	result, err := client.Evaluate(context.Background(),
		model.Question{QuestionID: "q1", Type: model.QuestionTypeShortAnswer, Points: 10},
		json.RawMessage(`"because of osmosis"`),
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.IsCorrect || result.Feedback != "well reasoned" {
		t.Fatalf("result = %+v", result)
	}
}

func TestHTTPClientEvaluateNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 2*time.Second)
	_, err := client.Evaluate(context.Background(),
		model.Question{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 5},
		json.RawMessage(`"A"`),
	)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
