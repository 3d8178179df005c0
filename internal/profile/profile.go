// Package profile holds the runtime configuration of the server, resolved
// once at startup from environment variables and flags.
package profile

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the resolved runtime configuration.
type Profile struct {
	// Mode is either "prod" or "dev". Dev mode allows X-Tenant-ID header auth.
	Mode string `mapstructure:"mode"`
	// Addr is the binding address, empty for all interfaces.
	Addr string `mapstructure:"addr"`
	// Port is the binding port.
	Port int `mapstructure:"port"`
	// Data is the data directory (sqlite file, vector store).
	Data string `mapstructure:"data"`
	// Driver is the relational store driver: sqlite, mysql or postgres.
	Driver string `mapstructure:"driver"`
	// DSN is the data source name for the relational store.
	DSN string `mapstructure:"dsn"`
	// Secret signs tenant bearer tokens.
	Secret string `mapstructure:"secret"`
	// AdminToken guards the tenant provisioning endpoints.
	AdminToken string `mapstructure:"admin-token"`

	// LLMAPIKey authenticates against the chat-completion endpoint.
	LLMAPIKey string `mapstructure:"llm-api-key"`
	// LLMBaseURL is an OpenAI-compatible chat-completion endpoint.
	LLMBaseURL string `mapstructure:"llm-base-url"`
	// LLMModel is the default model when a request does not name one.
	LLMModel string `mapstructure:"llm-model"`
	// EmbeddingModel is the model used to embed knowledge-base documents.
	EmbeddingModel string `mapstructure:"embedding-model"`
	// LLMCacheCapacity bounds the per-process (tenant, model) client cache.
	LLMCacheCapacity int `mapstructure:"llm-cache-capacity"`
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}
	if p.Driver != "sqlite" && p.Driver != "mysql" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = fmt.Sprintf("%s/parasol_%s.db", p.Data, p.Mode)
	}
	if p.DSN == "" {
		return errors.New("dsn required for non-sqlite drivers")
	}
	if p.Secret == "" {
		return errors.New("secret required")
	}
	if p.LLMCacheCapacity <= 0 {
		p.LLMCacheCapacity = 128
	}
	return nil
}

// New resolves a Profile from the environment. Every field can be set via
// PARASOL_* variables, e.g. PARASOL_LLM_API_KEY.
func New() (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix("parasol")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8081)
	v.SetDefault("data", ".")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "")
	v.SetDefault("secret", "")
	v.SetDefault("admin-token", "")
	v.SetDefault("llm-api-key", "")
	v.SetDefault("llm-base-url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm-model", "gpt-3.5-turbo")
	v.SetDefault("embedding-model", "text-embedding-3-small")
	v.SetDefault("llm-cache-capacity", 128)

	profile := &Profile{}
	if err := v.Unmarshal(profile); err != nil {
		return nil, errors.Wrap(err, "unmarshal profile")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}
