package config

import (
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *memBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.SummaryModel != "phi3.5" || cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("ollama = %+v", cfg.Ollama)
	}
	if cfg.Retrieval.DenseWeight != 0.6 || cfg.Retrieval.SparseWeight != 0.4 || cfg.Retrieval.CandidateK != 50 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Pyramid.MinWords != 750 || cfg.Pyramid.ChunkWords != 200 || cfg.Pyramid.BucketSize != 5 {
		t.Errorf("pyramid = %+v", cfg.Pyramid)
	}
	if cfg.Cluster.SimilarityThreshold != 0.75 || cfg.Cluster.MaxClusters != 10 {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Session.IdleTTLMinutes != 120 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("empty data dir")
	}
}

func TestLoadBackendOverrides(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9999)
	b.SetString("ollama.summary_model", "llama3.2")
	// Floats are stored as strings in the backend.
	b.SetString("retrieval.dense_weight", "0.8")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.SummaryModel != "llama3.2" {
		t.Errorf("summary model = %q", cfg.Ollama.SummaryModel)
	}
	if cfg.Retrieval.DenseWeight != 0.8 {
		t.Errorf("dense weight = %f", cfg.Retrieval.DenseWeight)
	}
	// Untouched keys keep their defaults.
	if cfg.Retrieval.SparseWeight != 0.4 {
		t.Errorf("sparse weight = %f", cfg.Retrieval.SparseWeight)
	}
}

func TestLoadEnvOverridesWinOverBackend(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9999)

	t.Setenv("RECALL_SERVER_PORT", "5500")
	t.Setenv("RECALL_LOG_LEVEL", "debug")
	t.Setenv("RECALL_REFINE_ANCHOR_WEIGHT", "0.45")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5500 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Refine.AnchorWeight != 0.45 {
		t.Errorf("anchor weight = %f", cfg.Refine.AnchorWeight)
	}
}

func TestLoadMalformedEnvIgnored(t *testing.T) {
	t.Setenv("RECALL_SERVER_PORT", "not-a-number")
	t.Setenv("RECALL_RETRIEVAL_DENSE_WEIGHT", "much")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4400 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
	if cfg.Retrieval.DenseWeight != 0.6 {
		t.Errorf("dense weight = %f, want default", cfg.Retrieval.DenseWeight)
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll = %d entries, ValidKeys = %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if info.Key == "" || info.Value == "" {
			t.Errorf("incomplete entry %+v", info)
		}
		if !strings.HasPrefix(info.EnvVar, "RECALL_") {
			t.Errorf("env var %q missing prefix", info.EnvVar)
		}
	}
}

func TestSetKeyUnknown(t *testing.T) {
	if err := SetKey("nonsense.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetKeyValidation(t *testing.T) {
	// Invalid values are rejected before touching the backend.
	if err := SetKey("server.port", "eighty"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := SetKey("retrieval.dense_weight", "heavy"); err == nil {
		t.Error("expected error for non-float weight")
	}
}
