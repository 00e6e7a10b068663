package dolphin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/poolhome/poolhome/internal/core"
)

// Plugin wires the Maytronics API client, the shadow session, and the
// supervisor into the poolhome plugin contract.
type Plugin struct {
	cfg     Config
	account BootstrapState
	api     *APIClient
	metrics *Metrics
	log     zerolog.Logger

	mu            sync.Mutex
	supervisor    *Supervisor
	health        core.HealthStatus
	healthMessage string
}

// NewPlugin loads the account bootstrap and builds an idle plugin. The cloud
// session is not touched until Start.
func NewPlugin(cfg Config, log zerolog.Logger) (*Plugin, error) {
	cfg.applyDefaults()

	account, err := LoadBootstrap(cfg.BootstrapFile)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		cfg:     cfg,
		account: account,
		api:     NewAPIClient(account.Email, account.Password, account.BaseURL, log),
		metrics: NewMetrics(account.MotorUnitSerial),
		log:     log,
		health:  core.HealthHealthy,
	}, nil
}

func (p *Plugin) ID() string {
	return "dolphin"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "dolphin",
		DisplayName: "Dolphin",
		Version:     "0.1.0",
	}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return p.metrics.Collectors()
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthMessage
}

// Start fetches robot metadata and launches the session supervisor. A failed
// metadata fetch degrades the plugin but does not stop it: the supervisor can
// still run on the motor-unit serial alone.
func (p *Plugin) Start(ctx context.Context) error {
	musn := p.account.MotorUnitSerial

	serial := musn
	supportsTemperature := false
	details, err := p.api.RobotDetails(ctx, musn)
	if err != nil {
		p.log.Warn().Err(err).Msg("robot details unavailable, starting without metadata")
		p.setHealth(core.HealthDegraded, fmt.Sprintf("robot details: %v", err))
	} else {
		serial = details.Serial
		supportsTemperature = details.SupportsTemperature()
		p.log.Info().
			Str("serial", serial).
			Str("family", details.Family).
			Str("name", details.Name).
			Msg("robot identified")
	}

	session := NewShadowSession(p.cfg.Endpoint, p.cfg.Region, p.log)
	supervisor := NewSupervisor(SupervisorConfig{
		MotorUnitSerial:     musn,
		RobotSerial:         serial,
		SupportsTemperature: supportsTemperature,
		CredentialRefresh:   p.cfg.CredentialRefresh,
		StateRefresh:        p.cfg.StateRefresh,
		ReconnectDelay:      p.cfg.ReconnectDelay,
	}, session, p.api, LogHandler{Log: p.log}, p.metrics, p.log)
	supervisor.Start()

	p.mu.Lock()
	p.supervisor = supervisor
	p.mu.Unlock()
	return nil
}

// Stop shuts the supervisor down. Safe to call more than once.
func (p *Plugin) Stop() {
	p.mu.Lock()
	supervisor := p.supervisor
	p.mu.Unlock()
	if supervisor != nil {
		supervisor.Close()
	}
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	p.health = status
	p.healthMessage = message
	p.mu.Unlock()
}

func (p *Plugin) currentSupervisor() *Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supervisor
}

// RegisterHTTP mounts the plugin's control surface.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /dolphin/status", p.handleStatus)
	mux.HandleFunc("POST /dolphin/clean/start", p.command(func(s *Supervisor) error { return s.StartCleaning() }))
	mux.HandleFunc("POST /dolphin/clean/stop", p.command(func(s *Supervisor) error { return s.StopCleaning() }))
	mux.HandleFunc("POST /dolphin/mode", p.handleMode)
	mux.HandleFunc("POST /dolphin/led", p.handleLED)
	mux.HandleFunc("POST /dolphin/drive", p.handleDrive)
	mux.HandleFunc("POST /dolphin/drive/exit", p.command(func(s *Supervisor) error { return s.ExitDrive() }))
}

func (p *Plugin) handleStatus(w http.ResponseWriter, _ *http.Request) {
	supervisor := p.currentSupervisor()
	if supervisor == nil {
		http.Error(w, "plugin not started", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(supervisor.Snapshot())
}

// command adapts a supervisor call into an HTTP handler.
func (p *Plugin) command(call func(*Supervisor) error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		supervisor := p.currentSupervisor()
		if supervisor == nil {
			http.Error(w, "plugin not started", http.StatusServiceUnavailable)
			return
		}
		if err := call(supervisor); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (p *Plugin) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mode == "" {
		http.Error(w, "body must be {\"mode\": \"...\"}", http.StatusBadRequest)
		return
	}
	p.command(func(s *Supervisor) error { return s.SetCleaningMode(body.Mode) })(w, r)
}

func (p *Plugin) handleLED(w http.ResponseWriter, r *http.Request) {
	var led LEDState
	if err := json.NewDecoder(r.Body).Decode(&led); err != nil {
		http.Error(w, "invalid led body", http.StatusBadRequest)
		return
	}
	p.command(func(s *Supervisor) error { return s.SetLED(led) })(w, r)
}

func (p *Plugin) handleDrive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Direction == "" {
		http.Error(w, "body must be {\"direction\": \"...\"}", http.StatusBadRequest)
		return
	}
	p.command(func(s *Supervisor) error { return s.Drive(body.Direction) })(w, r)
}
