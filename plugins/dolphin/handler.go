package dolphin

import "github.com/rs/zerolog"

// Capability names the supervisor maintains.
const (
	CapStatus         = "robot_status"
	CapFilterBag      = "filter_bag_fill"
	CapFilterBagLevel = "filter_bag_level"
	CapCleaningMode   = "cleaning_mode"
	CapCycleTime      = "cycle_time"
	CapCycleTimeLeft  = "cycle_time_left"
	CapLEDMode        = "led_mode"
	CapLEDIntensity   = "led_intensity"
	CapLEDEnabled     = "led_enabled"
	CapPowerOnCount   = "power_on_count"
	CapTemperature    = "measure_temperature"
)

// Trigger names fired on state transitions and threshold crossings.
const (
	TriggerStatusChanged    = "status_changed"
	TriggerCleaningStarted  = "cleaning_started"
	TriggerCleaningFinished = "cleaning_finished"
	TriggerErrorOccurred    = "error_occurred"
	TriggerFilterFull       = "filter_full"
)

// DeviceHandler is the boundary to whatever observes the device: it receives
// availability changes, capability values, and trigger events. Implementations
// must be cheap and non-blocking; they are called from the supervisor's event
// loop.
type DeviceHandler interface {
	SetAvailable()
	SetUnavailable(reason string)
	SetCapability(name string, value any)
	Trigger(name string, payload map[string]any)
}

// LogHandler is the default DeviceHandler: it writes everything to the log.
type LogHandler struct {
	Log zerolog.Logger
}

func (h LogHandler) SetAvailable() {
	h.Log.Info().Msg("device available")
}

func (h LogHandler) SetUnavailable(reason string) {
	h.Log.Warn().Str("reason", reason).Msg("device unavailable")
}

func (h LogHandler) SetCapability(name string, value any) {
	h.Log.Debug().Str("capability", name).Interface("value", value).Msg("capability updated")
}

func (h LogHandler) Trigger(name string, payload map[string]any) {
	h.Log.Info().Str("trigger", name).Fields(payload).Msg("trigger fired")
}
