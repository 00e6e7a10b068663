package dolphin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is the shadow-session surface the supervisor drives. Satisfied by
// *ShadowSession; tests substitute a fake.
type Session interface {
	Connect(ctx context.Context, deviceID string, creds Credentials) error
	Disconnect()
	RequestState() error
	SendCommand(delta any) error
	RequestTemperature(serial string) error
	SendJoystick(direction string) error
	ExitJoystickMode() error
	Events() <-chan Event
}

// CredentialSource issues temporary IoT credentials for a motor unit.
// Satisfied by *APIClient.
type CredentialSource interface {
	IoTCredentials(ctx context.Context, motorUnitSerial string) (Credentials, error)
}

// SupervisorConfig tunes the session supervisor. Zero durations pick defaults.
type SupervisorConfig struct {
	MotorUnitSerial     string
	RobotSerial         string
	SupportsTemperature bool

	// CredentialRefresh must sit comfortably inside the ~1h credential
	// validity window.
	CredentialRefresh time.Duration
	StateRefresh      time.Duration
	ReconnectDelay    time.Duration
}

const (
	defaultCredentialRefresh = 50 * time.Minute
	defaultStateRefresh      = 5 * time.Minute
	defaultReconnectDelay    = 60 * time.Second
)

func (c *SupervisorConfig) applyDefaults() {
	if c.CredentialRefresh == 0 {
		c.CredentialRefresh = defaultCredentialRefresh
	}
	if c.StateRefresh == 0 {
		c.StateRefresh = defaultStateRefresh
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
}

type supervisorState int

const (
	stateDisconnected supervisorState = iota
	stateConnecting
	stateConnected
	stateReconnecting
)

func (s supervisorState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Snapshot is a point-in-time view of the supervised session, served over HTTP.
type Snapshot struct {
	State         string    `json:"state"`
	Status        Status    `json:"status"`
	LED           *LEDState `json:"led,omitempty"`
	ShadowVersion int64     `json:"shadow_version"`
	Temperature   float64   `json:"temperature,omitempty"`
}

// Supervisor owns credential acquisition, connect/disconnect sequencing, the
// recurring credential- and state-refresh timers, and reconnection after
// failure. A single event-processing goroutine owns all mutable session state;
// everything else posts closures into it.
type Supervisor struct {
	cfg     SupervisorConfig
	session Session
	creds   CredentialSource
	handler DeviceHandler
	metrics *Metrics
	log     zerolog.Logger

	actions   chan func()
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// loop-owned; never touched outside run()
	state          supervisorState
	prevStatus     Status
	lastLED        *LEDState
	credTimer      *time.Timer
	stateTimer     *time.Timer
	reconnectTimer *time.Timer

	// snapshot mirror, written only by the loop
	snapMu sync.Mutex
	snap   Snapshot
}

func NewSupervisor(cfg SupervisorConfig, session Session, creds CredentialSource, handler DeviceHandler, metrics *Metrics, log zerolog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:        cfg,
		session:    session,
		creds:      creds,
		handler:    handler,
		metrics:    metrics,
		log:        log,
		actions:    make(chan func(), 16),
		closed:     make(chan struct{}),
		state:      stateDisconnected,
		prevStatus: StatusOff,
	}
}

// Start launches the event loop and kicks off the first connect attempt.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.run()
	s.do(s.connect)
}

// Close cancels all timers, disconnects, and waits for the loop to exit.
// Idempotent.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
}

// Restart forces a full disconnect and a fresh connect sequence, used after a
// settings change invalidates the current credentials.
func (s *Supervisor) Restart() {
	s.do(func() {
		s.log.Info().Msg("restarting session")
		stopTimer(s.credTimer)
		stopTimer(s.stateTimer)
		stopTimer(s.reconnectTimer)
		s.session.Disconnect()
		s.setState(stateDisconnected)
		s.connect()
	})
}

// StartCleaning asks the power supply to switch on.
func (s *Supervisor) StartCleaning() error {
	return s.session.SendCommand(map[string]any{"systemState": map[string]any{"pwsState": "on"}})
}

// StopCleaning asks the power supply to switch off.
func (s *Supervisor) StopCleaning() error {
	return s.session.SendCommand(map[string]any{"systemState": map[string]any{"pwsState": "off"}})
}

// SetCleaningMode selects a cleaning program for the next cycle.
func (s *Supervisor) SetCleaningMode(mode string) error {
	return s.session.SendCommand(map[string]any{"cycleInfo": map[string]any{"cleaningMode": map[string]any{"mode": mode}}})
}

// SetLED pushes a desired LED configuration.
func (s *Supervisor) SetLED(led LEDState) error {
	return s.session.SendCommand(map[string]any{"led": led})
}

// Drive issues a manual-drive command; direction "stop" halts the motors.
func (s *Supervisor) Drive(direction string) error {
	return s.session.SendJoystick(direction)
}

// ExitDrive leaves remote-control mode.
func (s *Supervisor) ExitDrive() error {
	return s.session.ExitJoystickMode()
}

// Snapshot returns the current session view.
func (s *Supervisor) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// do posts fn into the event loop; dropped when the supervisor is closed.
func (s *Supervisor) do(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.closed:
	}
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	s.credTimer = newStoppedTimer()
	s.stateTimer = newStoppedTimer()
	s.reconnectTimer = newStoppedTimer()
	defer func() {
		stopTimer(s.credTimer)
		stopTimer(s.stateTimer)
		stopTimer(s.reconnectTimer)
		s.session.Disconnect()
	}()

	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.actions:
			fn()
		case ev := <-s.session.Events():
			s.handleEvent(ev)
		case <-s.credTimer.C:
			s.onCredentialRefresh()
		case <-s.stateTimer.C:
			s.onStateRefresh()
		case <-s.reconnectTimer.C:
			s.connect()
		}
	}
}

// connect runs the full sequence: fresh credentials, transport connect,
// immediate state request, timer arming. Any failure marks the device
// unavailable and schedules one reconnect.
func (s *Supervisor) connect() {
	if s.state == stateConnecting {
		return
	}
	s.setState(stateConnecting)
	stopTimer(s.reconnectTimer)
	s.metrics.ConnectAttempt()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	creds, err := s.creds.IoTCredentials(ctx, s.cfg.MotorUnitSerial)
	if err != nil {
		s.connectFailed(fmt.Errorf("obtain credentials: %w", err))
		return
	}
	if err := s.session.Connect(ctx, s.cfg.MotorUnitSerial, creds); err != nil {
		s.connectFailed(err)
		return
	}

	s.setState(stateConnected)
	s.handler.SetAvailable()
	s.metrics.SetConnected(true)
	s.log.Info().Str("motor_unit", s.cfg.MotorUnitSerial).Msg("session established")

	_ = s.session.RequestState()
	if s.cfg.SupportsTemperature {
		_ = s.session.RequestTemperature(s.cfg.RobotSerial)
	}

	resetTimer(s.credTimer, s.cfg.CredentialRefresh)
	resetTimer(s.stateTimer, s.cfg.StateRefresh)
}

func (s *Supervisor) connectFailed(err error) {
	s.log.Error().Err(err).Dur("retry_in", s.cfg.ReconnectDelay).Msg("connect failed")
	s.handler.SetUnavailable(err.Error())
	s.metrics.SetConnected(false)
	s.setState(stateDisconnected)
	stopTimer(s.credTimer)
	stopTimer(s.stateTimer)
	resetTimer(s.reconnectTimer, s.cfg.ReconnectDelay)
}

// onCredentialRefresh reconnects with fresh credentials. The signed URL is
// connection-scoped, so a credential refresh is always a full reconnect.
func (s *Supervisor) onCredentialRefresh() {
	s.log.Info().Msg("credential refresh due, reconnecting")
	s.setState(stateReconnecting)
	s.connect()
}

// onStateRefresh polls the shadow while connected and always re-arms itself,
// so polling self-heals once a reconnect succeeds.
func (s *Supervisor) onStateRefresh() {
	if s.state == stateConnected {
		_ = s.session.RequestState()
		if s.cfg.SupportsTemperature {
			_ = s.session.RequestTemperature(s.cfg.RobotSerial)
		}
	}
	resetTimer(s.stateTimer, s.cfg.StateRefresh)
}

func (s *Supervisor) handleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		s.log.Debug().Msg("transport reports connected")
	case EventDisconnected:
		s.onDisconnected(ev.Err)
	case EventStateUpdate:
		s.applyState(ev.State, ev.Version)
	case EventDynamicMessage:
		s.applyDynamic(ev.Dynamic)
	case EventError:
		s.metrics.SessionError()
		s.log.Warn().Err(ev.Err).Msg("session error")
	}
}

// onDisconnected handles a transport-initiated close. Ignored while a
// reconnect is already in progress.
func (s *Supervisor) onDisconnected(cause error) {
	if s.state != stateConnected {
		return
	}
	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	s.handler.SetUnavailable(reason)
	s.metrics.SetConnected(false)
	s.setState(stateDisconnected)
	stopTimer(s.credTimer)
	stopTimer(s.stateTimer)
	resetTimer(s.reconnectTimer, s.cfg.ReconnectDelay)
	s.log.Warn().Str("reason", reason).Dur("retry_in", s.cfg.ReconnectDelay).Msg("disconnected, reconnect scheduled")
}

func (s *Supervisor) applyState(state *ReportedState, version int64) {
	if state == nil {
		return
	}
	s.metrics.SetShadowVersion(version)
	s.updateSnap(func(snap *Snapshot) { snap.ShadowVersion = version })

	if f := state.SystemState; f != nil {
		status := CalculateStatus(f.PWSState, f.RobotState)
		s.handler.SetCapability(CapStatus, string(status))
		s.metrics.SetStatus(status)
		s.updateSnap(func(snap *Snapshot) { snap.Status = status })

		if status != s.prevStatus {
			prev := s.prevStatus
			s.prevStatus = status
			s.handler.Trigger(TriggerStatusChanged, map[string]any{"from": string(prev), "to": string(status)})
			if status == StatusCleaning {
				s.handler.Trigger(TriggerCleaningStarted, nil)
			}
			if prev == StatusCleaning {
				s.handler.Trigger(TriggerCleaningFinished, nil)
			}
			if status == StatusError {
				s.handler.Trigger(TriggerErrorOccurred, map[string]any{
					"pws_state":   f.PWSState,
					"robot_state": f.RobotState,
				})
			}
		}
		if f.TurnOnCount > 0 {
			s.handler.SetCapability(CapPowerOnCount, f.TurnOnCount)
			s.metrics.SetPowerOnCount(f.TurnOnCount)
		}
	}

	if f := state.CycleInfo; f != nil {
		if f.CleaningMode.Mode != "" {
			s.handler.SetCapability(CapCleaningMode, f.CleaningMode.Mode)
		}
		s.handler.SetCapability(CapCycleTime, f.CycleTime)
		s.handler.SetCapability(CapCycleTimeLeft, f.CycleTimeLeft)
		s.metrics.SetCycle(f.CycleTime, f.CycleTimeLeft)
	}

	if f := state.LED; f != nil {
		s.lastLED = f
		s.handler.SetCapability(CapLEDMode, f.Mode)
		s.handler.SetCapability(CapLEDIntensity, f.Intensity)
		s.handler.SetCapability(CapLEDEnabled, f.Enabled)
		led := *f
		s.updateSnap(func(snap *Snapshot) { snap.LED = &led })
	}

	if f := state.FilterBagIndication; f != nil {
		s.handler.SetCapability(CapFilterBag, f.State)
		s.handler.SetCapability(CapFilterBagLevel, string(ClassifyFilterBag(f.State)))
		s.metrics.SetFilterBag(f.State)
		// Level-triggered on purpose: fires on every update while the bag
		// reads full, not only on the crossing edge.
		if f.State >= filterFullThreshold {
			s.handler.Trigger(TriggerFilterFull, map[string]any{"value": f.State})
		}
	}
}

func (s *Supervisor) applyDynamic(raw json.RawMessage) {
	var msg dynamicMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn().Err(err).Msg("undecodable dynamic message")
		return
	}
	if msg.Type == dynamicTypeResponse && msg.Description == dynamicDescTemperature {
		s.handler.SetCapability(CapTemperature, msg.Temperature)
		s.metrics.SetTemperature(msg.Temperature)
		s.updateSnap(func(snap *Snapshot) { snap.Temperature = msg.Temperature })
	}
}

func (s *Supervisor) setState(state supervisorState) {
	s.state = state
	s.updateSnap(func(snap *Snapshot) { snap.State = state.String() })
}

func (s *Supervisor) updateSnap(fn func(*Snapshot)) {
	s.snapMu.Lock()
	fn(&s.snap)
	s.snapMu.Unlock()
}

// newStoppedTimer returns a timer that will not fire until reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

// stopTimer stops and drains; safe on already-stopped or already-fired timers.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
