// SPDX-License-Identifier: MIT
package bitint

import (
	"fmt"
	"testing"
)

func TestFloorPowerOfTwo(t *testing.T) {
	tests := []struct {
		n        int
		expected int
	}{
		{-3, 0},      // Negative number
		{0, 0},       // Zero
		{1, 1},       // Smallest power
		{3, 2},       // Small non-power
		{1000, 512},  // Not power of two
		{8192, 8192}, // Already power of two
		{8193, 8192}, // Just above a power
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%d", tt.n, tt.expected), func(t *testing.T) {
			result := FloorPowerOfTwo(tt.n)
			if result != tt.expected {
				t.Errorf("FloorPowerOfTwo(%d) = %d, expected %d", tt.n, result, tt.expected)
			}
		})
	}
}

func BenchmarkFloorPowerOfTwo(b *testing.B) {
	n := 0
	for b.Loop() {
		_ = FloorPowerOfTwo(n)
		n++
	}
}
