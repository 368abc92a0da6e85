// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-2 helper used to size transform windows.
It is O(1), allocation free and safe to call from the analysis hot path.

Usage:

	// Largest FFT that fits in the analysis window
	size := bitint.FloorPowerOfTwo(8000) // Returns 4096

----------------------------------------------------------------------

What this code does:

	FloorPowerOfTwo keeps only the highest set bit of n. bits.Len
	gives the position of that bit plus one, so shifting 1 left by
	Len-1 rebuilds it:

	- For input 1000 (binary 1111101000):
	  bits.Len(1000) = 10
	  1 << 9 = 512

	- For input 8 (binary 1000, already a power of 2):
	  bits.Len(8) = 4
	  1 << 3 = 8 (preserved)
*/
package bitint

import "math/bits"

// FloorPowerOfTwo returns the largest power of 2 <= n, or 0 for n < 1.
func FloorPowerOfTwo(n int) int {
	if n < 1 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
