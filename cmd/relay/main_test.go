package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tjfontaine/responses-relay/internal/config"
	"github.com/tjfontaine/responses-relay/internal/storage/memory"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		OpenAI:  config.OpenAIConfig{APIKey: "sk-test", BaseURL: baseURL, Model: "gpt-4.1"},
		Logging: config.LoggingConfig{Level: "info"},
		Storage: config.StorageConfig{Type: "memory"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func TestNewServer_Routes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vector_stores/vs_1":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"vs_1","object":"vector_store","name":"docs"}`)
		case "/responses":
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "data: {\"type\":\"response.created\",\"response\":{\"id\":\"r1\"}}\n\n")
			io.WriteString(w, "data: {\"type\":\"response.completed\"}\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := newServer(testConfig(upstream.URL), logger, memory.New())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, `"status":"ok"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "go_goroutines"},
		{"admin stats", http.MethodGet, "/admin/stats", "", http.StatusOK, `"uptime"`},
		{"retrieve store", http.MethodGet, "/vector_stores/retrieve_store?vector_store_id=vs_1", "", http.StatusOK, `"name":"docs"`},
		{"list files upstream 404", http.MethodGet, "/vector_stores/list_files?vector_store_id=vs_1", "", http.StatusInternalServerError, "Error fetching files"},
		{"turn response", http.MethodPost, "/turn_response", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusOK, `"event":"response.completed"`},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.wantBody)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}

	// The streamed turn was recorded and is visible through the admin API
	resp, err := http.Get(ts.URL + "/admin/turns")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Turns []struct {
			ResponseID string `json:"response_id"`
			Status     string `json:"status"`
		} `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Turns) != 1 || list.Turns[0].ResponseID != "r1" || list.Turns[0].Status != "completed" {
		t.Errorf("turns = %+v", list.Turns)
	}
}

func TestNewServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Metrics.Enabled = false

	srv, err := newServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/turns", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/admin/turns status = %d, want 503", rec.Code)
	}
}

func TestNewServer_EventLogDir(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Logging.Dir = filepath.Join(t.TempDir(), "logs")

	if _, err := newServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil); err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantNil bool
		wantErr bool
	}{
		{name: "none", cfg: config.StorageConfig{Type: "none"}, wantNil: true},
		{name: "empty", cfg: config.StorageConfig{}, wantNil: true},
		{name: "memory", cfg: config.StorageConfig{Type: "memory"}},
		{name: "sqlite", cfg: config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: "file:mainmemdb?mode=memory&cache=shared"}}},
		{name: "unknown", cfg: config.StorageConfig{Type: "postgres"}, wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStore(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (store == nil) != tt.wantNil {
				t.Errorf("openStore() = %v, wantNil %v", store, tt.wantNil)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
