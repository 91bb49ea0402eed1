package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientWrite(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL, Token: "secret"})
	err := client.Write(context.Background(), "timeLogs", "log-1", map[string]string{"taskId": "t-1"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if gotPath != "/collections/timeLogs/log-1" {
		t.Errorf("Unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer token header, got %q", gotAuth)
	}
	if gotBody["taskId"] != "t-1" {
		t.Errorf("Unexpected body: %v", gotBody)
	}
}

func TestHTTPClientWriteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL})
	err := client.Write(context.Background(), "timeLogs", "log-1", map[string]string{})
	if err == nil {
		t.Fatal("Expected error for 403 response")
	}
}

func TestHTTPClientReadRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("since") != "1000" || r.URL.Query().Get("until") != "2000" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Document{
			{ID: "a", UpdatedAt: 1500, DeviceID: "dev-1", Data: json.RawMessage(`{"duration":60}`)},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL})
	docs, err := client.ReadRange(context.Background(), "timeLogs", 1000, 2000)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Fatalf("Unexpected documents: %v", docs)
	}
}

func TestHTTPClientProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"serverTime": 1700000000000})
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL})
	serverTime, err := client.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if serverTime != 1700000000000 {
		t.Errorf("Expected server time 1700000000000, got %d", serverTime)
	}
}

func TestSubscribeAndDispatch(t *testing.T) {
	client := NewHTTPClient(&HTTPConfig{BaseURL: "http://unused"})

	var received []Document
	unsubscribe := client.Subscribe("timeLogs", func(collection string, doc Document) {
		received = append(received, doc)
	})

	client.Dispatch("timeLogs", Document{ID: "a"})
	client.Dispatch("other", Document{ID: "ignored"})

	if len(received) != 1 || received[0].ID != "a" {
		t.Fatalf("Expected one delivery for subscribed collection, got %v", received)
	}

	unsubscribe()
	client.Dispatch("timeLogs", Document{ID: "b"})
	if len(received) != 1 {
		t.Errorf("Expected no delivery after unsubscribe, got %d", len(received))
	}
}
