package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_URL points at a running chat-server, e.g. http://localhost:8080
	ServerURL string `envconfig:"E2E_SERVER_URL"`
	// E2E_JWT_SECRET must match the server JWT_SECRET so the suite can mint tokens
	JWTSecret string `envconfig:"E2E_JWT_SECRET"`
	// E2E_DEBUG_JSON dumps every socket frame received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
