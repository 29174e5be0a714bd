// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-2 helpers used to size FFT buffers
from the audio block size.

	fftSize := bitint.NextPowerOfTwo(blockSize) // 1000 -> 1024
	ok := bitint.IsPowerOfTwo(fftSize)

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of 2 map to themselves: for 8, bits.Len(7) is 3 and 1<<3 is 8,
where bits.Len(8) would give 4 and double the input.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size. Sizes <= 0
// give 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. Powers of 2
// have exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
