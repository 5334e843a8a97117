package records

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		fallback int
		want     int
	}{
		{"configured bound wins", 7, 5, 7},
		{"zero falls back", 0, 5, 5},
		{"negative falls back", -3, 15, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clamp(tt.limit, tt.fallback); got != tt.want {
				t.Errorf("clamp(%d, %d) = %d, want %d", tt.limit, tt.fallback, got, tt.want)
			}
		})
	}
}
