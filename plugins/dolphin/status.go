package dolphin

// Status is the derived operating state of the robot, computed from the
// power-supply state and the robot state reported in a systemState fragment.
type Status string

const (
	StatusOff         Status = "off"
	StatusCleaning    Status = "cleaning"
	StatusError       Status = "error"
	StatusInit        Status = "init"
	StatusProgramming Status = "programming"
	StatusHoldDelay   Status = "holddelay"
	StatusHoldWeekly  Status = "holdweekly"
)

// Power-supply states reported in systemState.pwsState.
const (
	pwsOn          = "on"
	pwsOff         = "off"
	pwsError       = "error"
	pwsProgramming = "programming"
	pwsHoldDelay   = "holdDelay"
	pwsHoldWeekly  = "holdWeekly"
)

// Robot states reported in systemState.robotState.
const (
	robotFault        = "fault"
	robotProgramming  = "programming"
	robotInit         = "init"
	robotNotConnected = "notConnected"
	robotFinished     = "finished"
)

// CalculateStatus maps a (pwsState, robotState) pair to a derived status.
// Rules are evaluated in order, first match wins. Unrecognized inputs fall
// through to "off".
func CalculateStatus(pwsState, robotState string) Status {
	switch {
	case pwsState == pwsError || robotState == robotFault:
		return StatusError
	case pwsState == pwsProgramming && robotState == robotProgramming:
		return StatusProgramming
	case pwsState == pwsHoldDelay:
		return StatusHoldDelay
	case pwsState == pwsHoldWeekly:
		return StatusHoldWeekly
	case pwsState == pwsOn && robotState == robotInit:
		return StatusInit
	case pwsState == pwsProgramming && robotState != robotFinished:
		return StatusCleaning
	case pwsState == pwsOn && robotState != robotNotConnected && robotState != robotFinished:
		return StatusCleaning
	default:
		return StatusOff
	}
}

// FilterBagLevel buckets the raw filterBagIndication value (0-102).
type FilterBagLevel string

const (
	FilterBagUnknown       FilterBagLevel = "unknown"
	FilterBagEmpty         FilterBagLevel = "empty"
	FilterBagPartiallyFull FilterBagLevel = "partially_full"
	FilterBagGettingFull   FilterBagLevel = "getting_full"
	FilterBagAlmostFull    FilterBagLevel = "almost_full"
	FilterBagFull          FilterBagLevel = "full"
	FilterBagFault         FilterBagLevel = "fault"
	FilterBagNotAvailable  FilterBagLevel = "not_available"
)

// filterFullThreshold marks the fill level at which the filter-full trigger fires.
const filterFullThreshold = 100

// ClassifyFilterBag buckets a raw filter bag indication value. Values outside
// 0-102 classify as unknown, never error.
func ClassifyFilterBag(v int) FilterBagLevel {
	switch {
	case v < 0 || v > 102:
		return FilterBagUnknown
	case v == 0:
		return FilterBagEmpty
	case v <= 25:
		return FilterBagPartiallyFull
	case v <= 74:
		return FilterBagGettingFull
	case v <= 99:
		return FilterBagAlmostFull
	case v == 100:
		return FilterBagFull
	case v == 101:
		return FilterBagFault
	default:
		return FilterBagNotAvailable
	}
}
