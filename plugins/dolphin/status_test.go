package dolphin

import "testing"

func TestCalculateStatus(t *testing.T) {
	cases := []struct {
		pws   string
		robot string
		want  Status
	}{
		{"error", "cleaning", StatusError},
		{"on", "fault", StatusError},
		{"error", "fault", StatusError},
		{"programming", "programming", StatusProgramming},
		{"holdDelay", "cleaning", StatusHoldDelay},
		{"holdWeekly", "cleaning", StatusHoldWeekly},
		{"on", "init", StatusInit},
		{"programming", "cleaning", StatusCleaning},
		{"programming", "finished", StatusOff},
		{"on", "cleaning", StatusCleaning},
		{"on", "scanning", StatusCleaning},
		{"on", "notConnected", StatusOff},
		{"on", "finished", StatusOff},
		{"off", "cleaning", StatusOff},
		{"off", "finished", StatusOff},
		{"", "", StatusOff},
		{"bogus", "bogus", StatusOff},
	}
	for _, tc := range cases {
		if got := CalculateStatus(tc.pws, tc.robot); got != tc.want {
			t.Errorf("CalculateStatus(%q, %q) = %q, want %q", tc.pws, tc.robot, got, tc.want)
		}
	}
}

// Changing an input so it matches an earlier rule must never fall through to a
// later one: error wins over everything, holdDelay over cleaning, and so on.
func TestCalculateStatusPrecedence(t *testing.T) {
	for _, robot := range []string{"cleaning", "init", "programming", "finished", "notConnected", "fault"} {
		if got := CalculateStatus("error", robot); got != StatusError {
			t.Errorf("pws=error robot=%q: got %q, want error", robot, got)
		}
	}
	for _, pws := range []string{"on", "off", "error", "programming", "holdDelay", "holdWeekly"} {
		if got := CalculateStatus(pws, "fault"); got != StatusError {
			t.Errorf("pws=%q robot=fault: got %q, want error", pws, got)
		}
	}
	for _, robot := range []string{"cleaning", "init", "finished"} {
		if got := CalculateStatus("holdDelay", robot); got != StatusHoldDelay {
			t.Errorf("pws=holdDelay robot=%q: got %q, want holddelay", robot, got)
		}
	}
}

func TestClassifyFilterBag(t *testing.T) {
	cases := []struct {
		value int
		want  FilterBagLevel
	}{
		{-1, FilterBagUnknown},
		{0, FilterBagEmpty},
		{1, FilterBagPartiallyFull},
		{25, FilterBagPartiallyFull},
		{26, FilterBagGettingFull},
		{74, FilterBagGettingFull},
		{75, FilterBagAlmostFull},
		{99, FilterBagAlmostFull},
		{100, FilterBagFull},
		{101, FilterBagFault},
		{102, FilterBagNotAvailable},
		{103, FilterBagUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyFilterBag(tc.value); got != tc.want {
			t.Errorf("ClassifyFilterBag(%d) = %q, want %q", tc.value, got, tc.want)
		}
	}
}
