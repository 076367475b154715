// Package config loads and manages the application configuration from a
// JSON file backend with environment variable overrides.
package config

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Log       LogConfig
	Retrieval RetrievalConfig
	Refine    RefineConfig
	Pyramid   PyramidConfig
	Cluster   ClusterConfig
	Session   SessionConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL      string
	SummaryModel string
	EmbedModel   string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RetrievalConfig struct {
	DenseWeight  float64
	SparseWeight float64
	CandidateK   int
	DefaultLimit int
}

type RefineConfig struct {
	AnchorWeight    float64
	AnchorThreshold float64
}

type PyramidConfig struct {
	MinWords        int
	ChunkWords      int
	BucketSize      int
	L1TargetWords   int
	ApexTargetWords int
}

type ClusterConfig struct {
	SimilarityThreshold float64
	MinClusterSize      int
	MaxClusters         int
}

type SessionConfig struct {
	IdleTTLMinutes int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4400,
			MCPPort: 4401,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			SummaryModel: "phi3.5",
			EmbedModel:   "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Retrieval: RetrievalConfig{
			DenseWeight:  0.6,
			SparseWeight: 0.4,
			CandidateK:   50,
			DefaultLimit: 20,
		},
		Refine: RefineConfig{
			AnchorWeight:    0.3,
			AnchorThreshold: 0.25,
		},
		Pyramid: PyramidConfig{
			MinWords:        750,
			ChunkWords:      200,
			BucketSize:      5,
			L1TargetWords:   150,
			ApexTargetWords: 300,
		},
		Cluster: ClusterConfig{
			SimilarityThreshold: 0.75,
			MinClusterSize:      2,
			MaxClusters:         10,
		},
		Session: SessionConfig{
			IdleTTLMinutes: 120,
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/recall/config.json and applies RECALL_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
