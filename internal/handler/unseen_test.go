package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shoplane/chat-pipeline/internal/unseen"
	"github.com/shoplane/chat-pipeline/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.Nop()
}

func TestUnseenGet(t *testing.T) {
	t.Parallel()

	ledger := unseen.NewMemoryLedger()
	for i := 0; i < 3; i++ {
		if _, err := ledger.Increment(context.Background(), "seller_42", "c1"); err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}

	h := NewUnseenHandler(ledger, testLogger())

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCount  float64
	}{
		{"existing counter", "/api/v1/unseen?identity=seller_42&conversationId=c1", http.StatusOK, 3},
		{"absent counter reads zero", "/api/v1/unseen?identity=user_7&conversationId=c1", http.StatusOK, 0},
		{"missing identity", "/api/v1/unseen?conversationId=c1", http.StatusBadRequest, 0},
		{"missing conversation", "/api/v1/unseen?identity=seller_42", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			h.Get(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if got := body["count"].(float64); got != tt.wantCount {
				t.Fatalf("count = %v, want %v", got, tt.wantCount)
			}
		})
	}
}
