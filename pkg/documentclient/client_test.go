package documentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRender(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/documents/render" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Template string         `json:"template"`
			Data     map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Template != "payout_receipt" || req.Data["payout_id"] != "PAY-1" {
			t.Fatalf("unexpected render request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://docs.example.com/abc.pdf"})
	}))
	defer server.Close()

	url, err := NewClient(server.URL, "doc-key").Render(context.Background(), "payout_receipt", map[string]any{"payout_id": "PAY-1"})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if url != "https://docs.example.com/abc.pdf" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestRenderRejectsEmptyURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": ""})
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Render(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestRenderSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Render(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
