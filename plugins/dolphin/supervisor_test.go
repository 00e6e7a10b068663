package dolphin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSession struct {
	mu            sync.Mutex
	events        chan Event
	connectErr    error
	connects      int
	disconnects   int
	stateRequests int
	tempRequests  int
	commands      []any
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 32)}
}

func (f *fakeSession) Connect(_ context.Context, _ string, _ Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeSession) RequestState() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateRequests++
	return nil
}

func (f *fakeSession) SendCommand(delta any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, delta)
	return nil
}

func (f *fakeSession) RequestTemperature(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempRequests++
	return nil
}

func (f *fakeSession) SendJoystick(string) error { return nil }
func (f *fakeSession) ExitJoystickMode() error   { return nil }

func (f *fakeSession) Events() <-chan Event { return f.events }

func (f *fakeSession) counts() (connects, disconnects, stateRequests, tempRequests int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.stateRequests, f.tempRequests
}

func (f *fakeSession) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

type fakeCreds struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCreds) IoTCredentials(_ context.Context, musn string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Credentials{}, f.err
	}
	return Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET", IssuedFor: musn}, nil
}

type recorderHandler struct {
	mu           sync.Mutex
	available    int
	unavailable  []string
	capabilities map[string]any
	triggers     []string
}

func newRecorderHandler() *recorderHandler {
	return &recorderHandler{capabilities: make(map[string]any)}
}

func (r *recorderHandler) SetAvailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available++
}

func (r *recorderHandler) SetUnavailable(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, reason)
}

func (r *recorderHandler) SetCapability(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = value
}

func (r *recorderHandler) Trigger(name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, name)
}

func (r *recorderHandler) capability(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capabilities[name]
}

func (r *recorderHandler) triggerCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.triggers {
		if t == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSupervisor(session *fakeSession, creds *fakeCreds, handler *recorderHandler, cfg SupervisorConfig) *Supervisor {
	if cfg.MotorUnitSerial == "" {
		cfg.MotorUnitSerial = "MU1"
	}
	if cfg.RobotSerial == "" {
		cfg.RobotSerial = "ROB1"
	}
	return NewSupervisor(cfg, session, creds, handler, nil, zerolog.Nop())
}

func TestSupervisorConnectFlow(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{SupportsTemperature: true})
	s.Start()
	defer s.Close()

	waitFor(t, "device available", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.available == 1
	})

	connects, _, stateRequests, tempRequests := session.counts()
	if connects != 1 {
		t.Fatalf("expected 1 connect, got %d", connects)
	}
	if stateRequests != 1 {
		t.Fatalf("expected immediate state request, got %d", stateRequests)
	}
	if tempRequests != 1 {
		t.Fatalf("expected model-specific temperature poll, got %d", tempRequests)
	}
}

func TestSupervisorReconnectAfterDisconnect(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{ReconnectDelay: 20 * time.Millisecond})
	s.Start()
	defer s.Close()

	waitFor(t, "initial connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	// A duplicate close signal arrives before the reconnect runs; only the
	// first may be acted on.
	session.events <- Event{Kind: EventDisconnected, Err: errors.New("network drop")}
	session.events <- Event{Kind: EventDisconnected, Err: errors.New("network drop")}

	waitFor(t, "unavailable", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.unavailable) == 1
	})
	waitFor(t, "reconnect", func() bool { c, _, _, _ := session.counts(); return c == 2 })

	// Exactly one reconnect is scheduled per disconnect.
	time.Sleep(80 * time.Millisecond)
	if c, _, _, _ := session.counts(); c != 2 {
		t.Fatalf("expected exactly 2 connects, got %d", c)
	}
	handler.mu.Lock()
	unavailable := len(handler.unavailable)
	handler.mu.Unlock()
	if unavailable != 1 {
		t.Fatalf("expected 1 unavailable transition, got %d", unavailable)
	}
}

func TestSupervisorConnectFailureSchedulesRetry(t *testing.T) {
	session := newFakeSession()
	session.connectErr = errors.New("connect timeout")
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{ReconnectDelay: 15 * time.Millisecond})
	s.Start()
	defer s.Close()

	waitFor(t, "failure surfaced", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.unavailable) >= 1
	})

	session.setConnectErr(nil)
	waitFor(t, "recovery", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.available == 1
	})
}

func TestSupervisorAuthFailureSchedulesRetry(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{err: ErrAuthFailed}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{ReconnectDelay: 15 * time.Millisecond})
	s.Start()
	defer s.Close()

	waitFor(t, "auth failure surfaced", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.unavailable) >= 1
	})
	if c, _, _, _ := session.counts(); c != 0 {
		t.Fatalf("transport connect must not run without credentials, got %d connects", c)
	}

	creds.mu.Lock()
	creds.err = nil
	creds.mu.Unlock()
	waitFor(t, "recovery after auth fix", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.available == 1
	})
}

func TestSupervisorCredentialRefreshReconnects(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{
		CredentialRefresh: 30 * time.Millisecond,
		StateRefresh:      time.Hour,
		ReconnectDelay:    time.Hour,
	})
	s.Start()
	defer s.Close()

	waitFor(t, "refresh reconnect", func() bool { c, _, _, _ := session.counts(); return c >= 2 })

	creds.mu.Lock()
	calls := creds.calls
	creds.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected fresh credentials per reconnect, got %d fetches", calls)
	}
	_, _, stateRequests, _ := session.counts()
	if stateRequests < 2 {
		t.Fatalf("expected state re-request after refresh, got %d", stateRequests)
	}
}

func TestSupervisorStateRefreshSelfHeals(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{
		StateRefresh:      20 * time.Millisecond,
		CredentialRefresh: time.Hour,
		ReconnectDelay:    time.Hour,
	})
	s.Start()
	defer s.Close()

	waitFor(t, "periodic state requests", func() bool {
		_, _, n, _ := session.counts()
		return n >= 3
	})
}

func TestSupervisorCleaningTriggersFireOncePerTransition(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{})
	s.Start()
	defer s.Close()

	waitFor(t, "connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	update := func(pws, robot string) {
		session.events <- Event{Kind: EventStateUpdate, State: &ReportedState{
			SystemState: &SystemState{PWSState: pws, RobotState: robot},
		}}
	}

	update("on", "cleaning")
	waitFor(t, "cleaning status", func() bool { return handler.capability(CapStatus) == string(StatusCleaning) })
	update("on", "cleaning")
	update("on", "cleaning")
	update("off", "finished")
	waitFor(t, "off status", func() bool { return handler.capability(CapStatus) == string(StatusOff) })

	if n := handler.triggerCount(TriggerCleaningStarted); n != 1 {
		t.Fatalf("cleaning_started fired %d times, want 1", n)
	}
	if n := handler.triggerCount(TriggerCleaningFinished); n != 1 {
		t.Fatalf("cleaning_finished fired %d times, want 1", n)
	}

	update("error", "cleaning")
	waitFor(t, "error status", func() bool { return handler.capability(CapStatus) == string(StatusError) })
	if n := handler.triggerCount(TriggerErrorOccurred); n != 1 {
		t.Fatalf("error_occurred fired %d times, want 1", n)
	}
}

func TestSupervisorFilterFullIsLevelTriggered(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{})
	s.Start()
	defer s.Close()

	waitFor(t, "connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	full := func(v int) {
		session.events <- Event{Kind: EventStateUpdate, State: &ReportedState{
			FilterBagIndication: &FilterBagIndication{State: v},
		}}
	}

	full(50)
	full(100)
	full(100)
	waitFor(t, "filter capability", func() bool { return handler.capability(CapFilterBag) == 100 })

	// Fires on every update where the value holds >= 100, not only on the edge.
	waitFor(t, "filter_full triggers", func() bool { return handler.triggerCount(TriggerFilterFull) == 2 })
	if handler.capability(CapFilterBagLevel) != string(FilterBagFull) {
		t.Fatalf("unexpected filter level %v", handler.capability(CapFilterBagLevel))
	}
}

func TestSupervisorTemperatureResponse(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{})
	s.Start()
	defer s.Close()

	waitFor(t, "connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	session.events <- Event{Kind: EventDynamicMessage, Dynamic: []byte(`{"type":"iotResponse","description":"temperature","temperature":24.5}`)}
	waitFor(t, "temperature capability", func() bool { return handler.capability(CapTemperature) == 24.5 })

	if s.Snapshot().Temperature != 24.5 {
		t.Fatalf("snapshot temperature = %v", s.Snapshot().Temperature)
	}
}

func TestSupervisorRestart(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{})
	s.Start()
	defer s.Close()

	waitFor(t, "connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	s.Restart()
	waitFor(t, "reconnect after restart", func() bool {
		c, d, _, _ := session.counts()
		return c == 2 && d >= 1
	})
}

func TestSupervisorCloseIdempotent(t *testing.T) {
	session := newFakeSession()
	creds := &fakeCreds{}
	handler := newRecorderHandler()

	s := testSupervisor(session, creds, handler, SupervisorConfig{})
	s.Start()
	waitFor(t, "connect", func() bool { c, _, _, _ := session.counts(); return c == 1 })

	s.Close()
	s.Close()

	_, disconnects, _, _ := session.counts()
	if disconnects == 0 {
		t.Fatal("close must disconnect the session")
	}
}
