package backoff

import (
	"testing"
	"time"
)

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := Exponential{Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJittered_StaysInRange(t *testing.T) {
	j := Jittered{Base: time.Second, Max: 8 * time.Second, Min: 100 * time.Millisecond}
	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := Exponential{Base: j.Base, Max: j.Max}.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := j.Delay(attempt)
			if d < j.Min || d > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, d, j.Min, ceiling)
			}
		}
	}
}
