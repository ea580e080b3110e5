package exec

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExecutePassesBodyAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"language":"go"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"run":{"code":0}}`))
	}))
	defer upstream.Close()

	r := NewRunner(upstream.URL)
	status, payload, err := r.Execute(context.Background(), bytes.NewBufferString(`{"language":"go"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if string(payload) != `{"run":{"code":0}}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestExecutePreservesUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
	}))
	defer upstream.Close()

	r := NewRunner(upstream.URL)
	status, _, err := r.Execute(context.Background(), bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("expected upstream 400, got %d", status)
	}
}

func TestExecuteTransportError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close()

	r := NewRunner(upstream.URL)
	if _, _, err := r.Execute(context.Background(), bytes.NewBufferString(`{}`)); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestExecuteHonorsContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRunner(upstream.URL)
	if _, _, err := r.Execute(ctx, bytes.NewBufferString(`{}`)); err == nil {
		t.Fatal("expected context deadline error")
	}
}
