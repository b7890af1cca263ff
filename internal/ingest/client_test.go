package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_FetchSendsKeyAndStartDate(t *testing.T) {
	var gotKey, gotStart, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAccept = r.Header.Get("accept")
		gotStart = r.URL.Query().Get("startDate")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"deviceId":"A","timestamp":"2024-01-01T00:00:01Z","payload":"spots: 5"}]`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL + "/public_api/Data", APIKey: "secret-key", Timeout: 5 * time.Second})

	table, stats, err := client.Fetch(context.Background(), time.Unix(1764516356, 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotKey != "secret-key" {
		t.Errorf("X-API-Key = %q, want secret-key", gotKey)
	}
	if gotAccept != "application/json" {
		t.Errorf("accept = %q", gotAccept)
	}
	if gotStart != "1764516356" {
		t.Errorf("startDate = %q, want 1764516356", gotStart)
	}
	if len(table) != 1 || table[0].Spots != 5 {
		t.Errorf("table = %v", table)
	}
	if stats.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", stats.Accepted)
	}
}

func TestClient_FetchEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "k", Timeout: 5 * time.Second})

	table, _, err := client.Fetch(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("table = %v, want empty", table)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "bad", Timeout: 5 * time.Second})

	_, _, err := client.Fetch(context.Background(), time.Now())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
}

func TestClient_FetchNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "k", Timeout: 5 * time.Second})

	_, _, err := client.Fetch(context.Background(), time.Now())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestClient_FetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(ClientConfig{BaseURL: url, APIKey: "k", Timeout: time.Second})

	if _, _, err := client.Fetch(context.Background(), time.Now()); err == nil {
		t.Error("expected error from closed server")
	}
}

func TestClient_FetchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "k", Timeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, _, err := client.Fetch(ctx, time.Now()); err == nil {
		t.Error("expected context deadline error")
	}
}
