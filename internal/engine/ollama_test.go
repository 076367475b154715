package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEngineIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if !e.IsRunning(context.Background()) {
		t.Error("expected running")
	}

	down := NewOllamaEngine("http://127.0.0.1:1")
	if down.IsRunning(context.Background()) {
		t.Error("expected not running")
	}
}

func TestOllamaEngineListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"phi3.5:latest"},{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	models, err := e.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "phi3.5:latest" {
		t.Errorf("models = %v", models)
	}
}

func TestOllamaEngineHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"phi3.5:latest"}]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	ctx := context.Background()

	// Bare names match tagged variants.
	if !e.HasModel(ctx, "phi3.5") {
		t.Error("expected phi3.5 to match phi3.5:latest")
	}
	if !e.HasModel(ctx, "phi3.5:latest") {
		t.Error("expected exact tag match")
	}
	if e.HasModel(ctx, "phi3") {
		t.Error("phi3 must not match phi3.5")
	}
	if e.HasModel(ctx, "llama3") {
		t.Error("unexpected model matched")
	}
}

func TestOllamaEngineChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Model != "phi3.5" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"hello from ollama"}}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	out, err := e.Chat(context.Background(), "phi3.5", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hello from ollama" {
		t.Errorf("Chat = %q", out)
	}
}

func TestOllamaEngineChatStructuredFormat(t *testing.T) {
	var gotFormat json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Format json.RawMessage `json:"format"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotFormat = req.Format
		w.Write([]byte(`{"message":{"content":"{}"}}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	schema := &Schema{Type: "object", Properties: map[string]SchemaProperty{
		"label": {Type: "string"},
	}}
	if _, err := e.Chat(context.Background(), "phi3.5", []Message{{Role: "user", Content: "x"}}, schema); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(gotFormat) == 0 {
		t.Error("schema not sent as format")
	}
}

func TestOllamaEngineChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if _, err := e.Chat(context.Background(), "phi3.5", nil, nil); err == nil {
		t.Error("expected error on 500")
	}
}

func TestOllamaEngineEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Input != "some text" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vec, err := e.Embed(context.Background(), "nomic-embed-text", "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllamaEngineEmbedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if _, err := e.Embed(context.Background(), "m", "text"); err == nil {
		t.Error("expected error for empty embeddings")
	}
}

func TestOllamaEnginePullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"downloading","total":100,"completed":50}` + "\n" +
			`{"status":"success"}` + "\n"))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	var progress []PullProgress
	err := e.PullModel(context.Background(), "phi3.5", func(p PullProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(progress) != 2 || progress[0].Completed != 50 || progress[1].Status != "success" {
		t.Errorf("progress = %+v", progress)
	}
}
