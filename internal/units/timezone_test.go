package units

import (
	"testing"
	"time"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected bool
	}{
		{"valid UTC", "UTC", true},
		{"valid Europe/London", "Europe/London", true},
		{"invalid", "Invalid/Timezone", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := IsTimezoneValid(tt.timezone)
			if res != tt.expected {
				t.Errorf("IsTimezoneValid(%s) = %v, want %v", tt.timezone, res, tt.expected)
			}
		})
	}
}

func TestConvertTime(t *testing.T) {
	launch := time.Date(2026, 6, 21, 9, 0, 0, 0, time.UTC)

	out, err := ConvertTime(launch, "")
	if err != nil || !out.Equal(launch) || out.Location() != time.UTC {
		t.Fatalf("ConvertTime(empty) = %v, %v", out, err)
	}

	out, err = ConvertTime(launch, "Europe/London")
	if err != nil {
		t.Fatalf("ConvertTime error: %v", err)
	}
	if !out.Equal(launch) || out.Hour() != 10 {
		t.Errorf("expected 10:00 BST, got %v", out)
	}

	if _, err := ConvertTime(launch, "Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
