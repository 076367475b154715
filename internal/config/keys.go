package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "RECALL_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "ollama.base_url", typ: kString, env: "RECALL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.summary_model", typ: kString, env: "RECALL_OLLAMA_SUMMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.SummaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.SummaryModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "RECALL_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "RECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "retrieval.dense_weight", typ: kFloat, env: "RECALL_RETRIEVAL_DENSE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.DenseWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.DenseWeight },
	},
	{
		key: "retrieval.sparse_weight", typ: kFloat, env: "RECALL_RETRIEVAL_SPARSE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SparseWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.SparseWeight },
	},
	{
		key: "retrieval.candidate_k", typ: kInt, env: "RECALL_RETRIEVAL_CANDIDATE_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CandidateK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.CandidateK },
	},
	{
		key: "retrieval.default_limit", typ: kInt, env: "RECALL_RETRIEVAL_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.DefaultLimit },
	},
	{
		key: "refine.anchor_weight", typ: kFloat, env: "RECALL_REFINE_ANCHOR_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Refine.AnchorWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Refine.AnchorWeight },
	},
	{
		key: "refine.anchor_threshold", typ: kFloat, env: "RECALL_REFINE_ANCHOR_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Refine.AnchorThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Refine.AnchorThreshold },
	},
	{
		key: "pyramid.min_words", typ: kInt, env: "RECALL_PYRAMID_MIN_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Pyramid.MinWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Pyramid.MinWords },
	},
	{
		key: "pyramid.chunk_words", typ: kInt, env: "RECALL_PYRAMID_CHUNK_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Pyramid.ChunkWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Pyramid.ChunkWords },
	},
	{
		key: "pyramid.bucket_size", typ: kInt, env: "RECALL_PYRAMID_BUCKET_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pyramid.BucketSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pyramid.BucketSize },
	},
	{
		key: "pyramid.l1_target_words", typ: kInt, env: "RECALL_PYRAMID_L1_TARGET_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Pyramid.L1TargetWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Pyramid.L1TargetWords },
	},
	{
		key: "pyramid.apex_target_words", typ: kInt, env: "RECALL_PYRAMID_APEX_TARGET_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Pyramid.ApexTargetWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Pyramid.ApexTargetWords },
	},
	{
		key: "cluster.similarity_threshold", typ: kFloat, env: "RECALL_CLUSTER_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cluster.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cluster.SimilarityThreshold },
	},
	{
		key: "cluster.min_cluster_size", typ: kInt, env: "RECALL_CLUSTER_MIN_CLUSTER_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Cluster.MinClusterSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Cluster.MinClusterSize },
	},
	{
		key: "cluster.max_clusters", typ: kInt, env: "RECALL_CLUSTER_MAX_CLUSTERS",
		apply:   func(cfg *Config, v any) { cfg.Cluster.MaxClusters = v.(int) },
		extract: func(cfg Config) any { return cfg.Cluster.MaxClusters },
	},
	{
		key: "session.idle_ttl_minutes", typ: kInt, env: "RECALL_SESSION_IDLE_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.IdleTTLMinutes },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
