package dolphin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	connectTimeout   = 30 * time.Second
	subscribeTimeout = 10 * time.Second
	eventBuffer      = 32

	// disconnectQuiesce is how long paho waits for in-flight work on close.
	disconnectQuiesce = 250 // milliseconds
)

// ErrNotConnected is returned by publishers when no transport is live.
var ErrNotConnected = errors.New("shadow session not connected")

// ShadowSession owns at most one live MQTT-over-WebSocket connection to the
// device gateway and translates connection and topic events into typed Events.
// Reconnection policy lives in the Supervisor: every reconnect needs a freshly
// signed URL, so paho's auto-reconnect stays off.
type ShadowSession struct {
	endpoint string
	region   string
	log      zerolog.Logger
	events   chan Event
	now      func() time.Time

	mu        sync.Mutex
	client    mqtt.Client
	deviceID  string
	connected bool
}

func NewShadowSession(endpoint, region string, log zerolog.Logger) *ShadowSession {
	return &ShadowSession{
		endpoint: endpoint,
		region:   region,
		log:      log,
		events:   make(chan Event, eventBuffer),
		now:      time.Now,
	}
}

// Events delivers session notifications. The channel is never closed; consume
// it from a single goroutine.
func (s *ShadowSession) Events() <-chan Event {
	return s.events
}

func (s *ShadowSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect tears down any prior transport, opens a signed WebSocket connection
// and subscribes to the device's shadow wildcard and dynamic topics. It
// returns only after both subscriptions are acknowledged, or fails within the
// connect timeout.
func (s *ShadowSession) Connect(ctx context.Context, deviceID string, creds Credentials) error {
	s.Disconnect()

	signedURL := Sign(s.endpoint, s.region, creds, s.now())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(signedURL)
	opts.SetClientID(sessionClientID())
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.onConnectionLost(err)
	})

	client := mqtt.NewClient(opts)
	if err := s.wait(ctx, client.Connect(), connectTimeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("connect to %s: %w", s.endpoint, err)
	}

	subscriptions := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{shadowPrefix(deviceID) + "/#", s.handleShadowMessage},
		{dynamicTopic(deviceID), s.handleDynamicMessage},
	}
	for _, sub := range subscriptions {
		if err := s.wait(ctx, client.Subscribe(sub.topic, 0, sub.handler), subscribeTimeout); err != nil {
			client.Disconnect(disconnectQuiesce)
			return fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
	}

	s.mu.Lock()
	s.client = client
	s.deviceID = deviceID
	s.connected = true
	s.mu.Unlock()

	s.log.Info().Str("device", deviceID).Msg("shadow session connected")
	s.emit(Event{Kind: EventConnected})
	return nil
}

// Disconnect closes the transport and releases the handle. Safe to call when
// already disconnected. An explicit disconnect never produces a Disconnected
// event; that is reserved for transport-initiated closes.
func (s *ShadowSession) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.connected = false
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
}

// RequestState publishes an empty document to the shadow get topic, asking the
// cloud to send the full reported state. No-op while disconnected.
func (s *ShadowSession) RequestState() error {
	err := s.publish(func(deviceID string) (string, []byte, error) {
		return shadowPrefix(deviceID) + "/get", []byte("{}"), nil
	})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// SendCommand publishes a desired-state delta to the shadow update topic.
// Commands are fire-and-forget; the effect is observed via the next reported
// state. When disconnected the command is dropped and surfaced as an Error
// event, since capability listeners issue commands opportunistically.
func (s *ShadowSession) SendCommand(delta any) error {
	err := s.publish(func(deviceID string) (string, []byte, error) {
		payload, err := json.Marshal(map[string]any{"state": map[string]any{"desired": delta}})
		if err != nil {
			return "", nil, fmt.Errorf("encode desired delta: %w", err)
		}
		return shadowPrefix(deviceID) + "/update", payload, nil
	})
	if errors.Is(err, ErrNotConnected) {
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("command dropped: %w", err)})
	}
	return err
}

// RequestTemperature polls the water temperature over the dynamic topic.
// No-op while disconnected.
func (s *ShadowSession) RequestTemperature(serial string) error {
	return s.sendDynamic(dynamicRequest{
		Type:         dynamicTypeRequest,
		Description:  dynamicDescTemperature,
		SerialNumber: serial,
	})
}

// SendJoystick issues a manual-drive command. Speed is 0 for "stop" and 100
// for any actual direction. No-op while disconnected.
func (s *ShadowSession) SendJoystick(direction string) error {
	speed := 100
	if direction == "stop" {
		speed = 0
	}
	return s.sendDynamic(dynamicRequest{
		Type:        dynamicTypeRequest,
		Description: dynamicDescJoystick,
		Direction:   direction,
		Speed:       &speed,
	})
}

// ExitJoystickMode leaves remote-control mode. No-op while disconnected.
func (s *ShadowSession) ExitJoystickMode() error {
	return s.sendDynamic(dynamicRequest{
		Type:        dynamicTypeRequest,
		Description: dynamicDescExitJoystick,
	})
}

type dynamicRequest struct {
	Type         string `json:"type"`
	Description  string `json:"description"`
	SerialNumber string `json:"sernum,omitempty"`
	Direction    string `json:"direction,omitempty"`
	Speed        *int   `json:"speed,omitempty"`
}

func (s *ShadowSession) sendDynamic(req dynamicRequest) error {
	err := s.publish(func(deviceID string) (string, []byte, error) {
		payload, err := json.Marshal(req)
		if err != nil {
			return "", nil, err
		}
		return dynamicTopic(deviceID), payload, nil
	})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (s *ShadowSession) publish(build func(deviceID string) (string, []byte, error)) error {
	s.mu.Lock()
	client := s.client
	deviceID := s.deviceID
	connected := s.connected
	s.mu.Unlock()

	if client == nil || !connected {
		return ErrNotConnected
	}

	topic, payload, err := build(deviceID)
	if err != nil {
		return err
	}

	token := client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("publish %s: %w", topic, err)})
		}
	}()
	return nil
}

func (s *ShadowSession) handleShadowMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	switch {
	case strings.HasSuffix(topic, "/rejected"):
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("shadow rejected: %s", string(msg.Payload()))})
	case strings.HasSuffix(topic, "/get/accepted"), strings.HasSuffix(topic, "/update/accepted"):
		var doc shadowDocument
		if err := json.Unmarshal(msg.Payload(), &doc); err != nil {
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("malformed shadow document on %s: %w", topic, err)})
			return
		}
		if doc.State.Reported == nil {
			return
		}
		s.emit(Event{Kind: EventStateUpdate, State: doc.State.Reported, Version: doc.Version})
	default:
		// delta/documents sub-topics carry nothing the supervisor acts on
	}
}

func (s *ShadowSession) handleDynamicMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	if !json.Valid(payload) {
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("malformed dynamic payload on %s", msg.Topic())})
		return
	}
	s.emit(Event{Kind: EventDynamicMessage, Dynamic: payload})
}

func (s *ShadowSession) onConnectionLost(err error) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.client = nil
	s.mu.Unlock()

	if !wasConnected {
		return
	}
	s.log.Warn().Err(err).Msg("shadow session connection lost")
	s.emit(Event{Kind: EventDisconnected, Err: err})
}

// wait blocks on a paho token, bounded by both the timeout and ctx.
func (s *ShadowSession) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-token.Done():
		return token.Error()
	}
}

// emit never blocks: the supervisor loop is the sole consumer and may itself
// be inside Connect when paho callbacks fire.
func (s *ShadowSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("event", ev.Kind.String()).Msg("event channel full, dropping notification")
	}
}

func shadowPrefix(deviceID string) string {
	return "$aws/things/" + deviceID + "/shadow"
}

func dynamicTopic(deviceID string) string {
	return "Maytronics/" + deviceID + "/main"
}

func sessionClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "poolhome-" + base64.RawURLEncoding.EncodeToString(nonce)
}
