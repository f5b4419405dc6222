package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4004
	}
	if cfg.Server.TenantHeader == "" {
		cfg.Server.TenantHeader = "X-Tenant-ID"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/mailinsights/data/mails.db"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.QdrantHost == "" {
		cfg.Vector.QdrantHost = "localhost"
	}
	if cfg.Vector.QdrantPort == 0 {
		cfg.Vector.QdrantPort = 6334
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.CacheTTLSeconds == 0 {
		cfg.Embedding.CacheTTLSeconds = 7 * 24 * 3600
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.URL == "" {
		cfg.LLM.URL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.1"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 300
	}
	if cfg.LLM.MaxRepairs == nil {
		n := cfg.LLM.MaxRepairsOrDefault()
		cfg.LLM.MaxRepairs = &n
	}
	if cfg.Insights.WorkingLanguage == "" {
		cfg.Insights.WorkingLanguage = "English"
	}
	if cfg.Insights.RagK == 0 {
		cfg.Insights.RagK = 5
	}
	if cfg.Insights.ClosestK == 0 {
		cfg.Insights.ClosestK = 5
	}
	if cfg.Insights.FindCandidates == 0 {
		cfg.Insights.FindCandidates = 100
	}
	if cfg.Insights.Concurrency == 0 {
		cfg.Insights.Concurrency = 4
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".eml", ".txt", ".html", ".pdf"}
	}
	if len(cfg.Inbox.Directories) > 0 && cfg.Inbox.Recursive == nil {
		t := true
		cfg.Inbox.Recursive = &t
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
}
