package dolphin

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	defaultIoTEndpoint = "a12rqfdx55bdbv-ats.iot.eu-west-1.amazonaws.com"
	defaultIoTRegion   = "eu-west-1"
)

// Config defines runtime configuration for the Dolphin plugin.
type Config struct {
	BootstrapFile string
	Endpoint      string
	Region        string

	CredentialRefresh time.Duration
	StateRefresh      time.Duration
	ReconnectDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = defaultIoTEndpoint
	}
	if c.Region == "" {
		c.Region = defaultIoTRegion
	}
}

// BootstrapState captures the persisted Maytronics account state. Only the
// account login lives on disk; wire credentials are always derived fresh.
type BootstrapState struct {
	SchemaVersion   int    `json:"schema_version"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	MotorUnitSerial string `json:"motor_unit_serial"`
	BaseURL         string `json:"base_url,omitempty"`
}

func LoadBootstrap(path string) (BootstrapState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BootstrapState{}, fmt.Errorf("read dolphin bootstrap: %w", err)
	}

	var state BootstrapState
	if err := json.Unmarshal(data, &state); err != nil {
		return BootstrapState{}, fmt.Errorf("parse dolphin bootstrap: %w", err)
	}
	if state.SchemaVersion != 1 {
		return BootstrapState{}, fmt.Errorf("unsupported dolphin bootstrap schema_version %d", state.SchemaVersion)
	}
	if state.Email == "" {
		return BootstrapState{}, fmt.Errorf("dolphin bootstrap missing email")
	}
	if state.Password == "" {
		return BootstrapState{}, fmt.Errorf("dolphin bootstrap missing password")
	}
	if state.MotorUnitSerial == "" {
		return BootstrapState{}, fmt.Errorf("dolphin bootstrap missing motor_unit_serial")
	}

	return state, nil
}
