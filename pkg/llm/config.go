package llm

import (
	"healthmon/pkg/config"
)

// LoadConfig loads LLM settings from LLM_* env vars. Defaults mirror
// the DeepSeek-compatible endpoint the system shipped with.
func LoadConfig() Config {
	return Config{
		BaseURL:     config.GetEnv("LLM_BASE_URL", "https://api.deepseek.com/v1"),
		APIKey:      config.GetEnv("LLM_API_KEY", ""),
		Model:       config.GetEnv("LLM_MODEL", "deepseek-chat"),
		Temperature: config.GetEnvFloat("LLM_TEMPERATURE", 1.0),
	}
}
