package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the daemon configuration, read from the environment. A .env file
// in the working directory is loaded first when present.
type Config struct {
	HTTPAddr  string `env:"POOLHOME_HTTP_ADDR,default=0.0.0.0:8080"`
	LogLevel  string `env:"POOLHOME_LOG_LEVEL,default=info"`
	LogPretty bool   `env:"POOLHOME_LOG_PRETTY,default=false"`

	Dolphin DolphinConfig
}

// DolphinConfig configures the Dolphin plugin. Only the bootstrap file is
// required; everything else has sensible defaults in the plugin.
type DolphinConfig struct {
	BootstrapFile string `env:"POOLHOME_DOLPHIN_BOOTSTRAP,required"`
	IoTEndpoint   string `env:"POOLHOME_DOLPHIN_IOT_ENDPOINT"`
	IoTRegion     string `env:"POOLHOME_DOLPHIN_IOT_REGION"`

	CredentialRefresh time.Duration `env:"POOLHOME_DOLPHIN_CREDENTIAL_REFRESH"`
	StateRefresh      time.Duration `env:"POOLHOME_DOLPHIN_STATE_REFRESH"`
	ReconnectDelay    time.Duration `env:"POOLHOME_DOLPHIN_RECONNECT_DELAY"`
}

// Load reads the optional .env file and decodes the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}
