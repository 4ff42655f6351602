package gradebook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientPostScore(t *testing.T) {
	var got Score
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/scores" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode score: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 2*time.Second)
	score := Score{StudentKey: "alice", CourseID: "c1", ItemID: "quiz-1", Score: 12, MaxScore: 15}
	if err := client.PostScore(context.Background(), score); err != nil {
		t.Fatalf("post score: %v", err)
	}
	if got != score {
		t.Fatalf("server received %+v, want %+v", got, score)
	}
}

func TestHTTPClientPostScoreNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	if err := client.PostScore(context.Background(), Score{}); err == nil {
		t.Fatal("expected error for 503 response")
	}
}
