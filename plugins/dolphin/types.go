package dolphin

import "encoding/json"

// Credentials are temporary IoT keys issued for one motor unit. They expire
// roughly an hour after issuance and are never written to disk; the supervisor
// replaces them wholesale on every refresh.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	IssuedFor       string
}

// ReportedState is a partial shadow document. Every fragment is independently
// optional; a nil fragment means "unchanged", not "cleared".
type ReportedState struct {
	SystemState         *SystemState         `json:"systemState,omitempty"`
	CycleInfo           *CycleInfo           `json:"cycleInfo,omitempty"`
	LED                 *LEDState            `json:"led,omitempty"`
	FilterBagIndication *FilterBagIndication `json:"filterBagIndication,omitempty"`
	Debug               *DebugInfo           `json:"debug,omitempty"`
}

// SystemState carries the power-supply and robot sub-states.
type SystemState struct {
	PWSState    string `json:"pwsState"`
	RobotState  string `json:"robotState"`
	RobotType   string `json:"robotType,omitempty"`
	IsBusy      bool   `json:"isBusy,omitempty"`
	TurnOnCount int    `json:"turnOnCount,omitempty"`
	TimeZone    int    `json:"timeZone,omitempty"`
}

// CycleInfo describes the active cleaning cycle.
type CycleInfo struct {
	CleaningMode   CleaningMode `json:"cleaningMode"`
	CycleStartTime int64        `json:"cycleStartTime,omitempty"`
	CycleTime      int          `json:"cycleTime,omitempty"`
	CycleTimeLeft  int          `json:"cycleTimeLeft,omitempty"`
}

// CleaningMode names one of the robot's cleaning programs.
type CleaningMode struct {
	Mode string `json:"mode"`
}

// LEDState mirrors the led fragment: mode 1-3, intensity 0-100.
type LEDState struct {
	Mode      int  `json:"ledMode"`
	Intensity int  `json:"ledIntensity"`
	Enabled   bool `json:"ledEnable"`
}

// FilterBagIndication carries the 0-102 fill/fault code.
type FilterBagIndication struct {
	State int `json:"state"`
}

// DebugInfo carries network diagnostics the robot occasionally reports.
type DebugInfo struct {
	WifiRSSI int `json:"wifiRssi,omitempty"`
}

// EventKind enumerates session notifications.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventStateUpdate
	EventDynamicMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventStateUpdate:
		return "state_update"
	case EventDynamicMessage:
		return "dynamic_message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one asynchronous notification from the shadow session. Only the
// fields relevant for Kind are set.
type Event struct {
	Kind    EventKind
	State   *ReportedState
	Version int64
	Dynamic json.RawMessage
	Err     error
}

// shadowDocument is the envelope on the shadow accepted topics.
type shadowDocument struct {
	State struct {
		Reported *ReportedState `json:"reported"`
	} `json:"state"`
	Version int64 `json:"version"`
}

// dynamicMessage is the discriminated envelope on the Maytronics dynamic topic.
type dynamicMessage struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature,omitempty"`
}

const (
	dynamicTypeRequest  = "pwsRequest"
	dynamicTypeResponse = "iotResponse"

	dynamicDescTemperature  = "temperature"
	dynamicDescJoystick     = "joystick"
	dynamicDescExitJoystick = "exitJoystick"
)
