package models

import "testing"

func TestItem_BelowMinLevel(t *testing.T) {
	cases := []struct {
		name     string
		quantity int64
		minLevel int64
		want     bool
	}{
		{"no threshold configured", 0, 0, false},
		{"above threshold", 10, 5, false},
		{"at threshold", 5, 5, true},
		{"below threshold", 3, 5, true},
		{"zero stock with threshold", 0, 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := Item{Quantity: tc.quantity, MinLevel: tc.minLevel}
			if got := item.BelowMinLevel(); got != tc.want {
				t.Errorf("quantity=%d minLevel=%d: expected %v, got %v",
					tc.quantity, tc.minLevel, tc.want, got)
			}
		})
	}
}
