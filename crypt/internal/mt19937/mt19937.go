// Package mt19937 is a from-scratch reimplementation of the Mersenne
// Twister PRNG exactly as CPython's `random` module seeds and samples it:
// init_by_array seeding from an arbitrary-precision integer, and
// getrandbits-based bounded sampling for shuffle and randint.
//
// sfse's sector cipher depends on byte-identical PRNG output to the
// reference implementation (spec: "A conforming implementation MUST
// produce byte-identical output to an existing encrypted device"), so this
// package exists instead of using math/rand, whose algorithm and seeding
// are both unspecified relative to CPython's.
package mt19937

import "math/big"

const (
	n         = 624
	m         = 397
	matrixA   = 0x9908b0df
	upperMask = 0x80000000
	lowerMask = 0x7fffffff
)

// Rand is a single MT19937 generator instance. It is not safe for
// concurrent use.
type Rand struct {
	state [n]uint32
	index int
}

// NewFromSeed builds a generator seeded the way CPython seeds
// random.Random(a) for a non-negative arbitrary-precision integer a:
// split into little-endian 32-bit words and fed through init_by_array.
func NewFromSeed(seed *big.Int) *Rand {
	r := &Rand{}
	r.initByArray(seedKey(seed))
	return r
}

// seedKey reproduces CPython's random_seed() key derivation for an int
// seed: absolute value, split into 32-bit words least-significant first,
// with a lone zero word if the seed is zero.
func seedKey(seed *big.Int) []uint32 {
	n := new(big.Int).Abs(seed)
	if n.Sign() == 0 {
		return []uint32{0}
	}

	mask := big.NewInt(0xffffffff)
	word := new(big.Int)
	var key []uint32
	for n.Sign() != 0 {
		word.And(n, mask)
		key = append(key, uint32(word.Uint64()))
		n.Rsh(n, 32)
	}
	return key
}

func (r *Rand) initGenrand(s uint32) {
	r.state[0] = s
	for i := 1; i < n; i++ {
		prev := r.state[i-1]
		r.state[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	r.index = n
}

func (r *Rand) initByArray(key []uint32) {
	r.initGenrand(19650218)

	i, j := 1, 0
	k := n
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		prev := r.state[i-1]
		r.state[i] = (r.state[i] ^ ((prev ^ (prev >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= n {
			r.state[0] = r.state[n-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = n - 1; k > 0; k-- {
		prev := r.state[i-1]
		r.state[i] = (r.state[i] ^ ((prev ^ (prev >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= n {
			r.state[0] = r.state[n-1]
			i = 1
		}
	}
	r.state[0] = 0x80000000
}

func (r *Rand) genrandUint32() uint32 {
	mag01 := [2]uint32{0, matrixA}

	if r.index >= n {
		var kk int
		for kk = 0; kk < n-m; kk++ {
			y := (r.state[kk] & upperMask) | (r.state[kk+1] & lowerMask)
			r.state[kk] = r.state[kk+m] ^ (y >> 1) ^ mag01[y&1]
		}
		for ; kk < n-1; kk++ {
			y := (r.state[kk] & upperMask) | (r.state[kk+1] & lowerMask)
			r.state[kk] = r.state[kk+(m-n)] ^ (y >> 1) ^ mag01[y&1]
		}
		y := (r.state[n-1] & upperMask) | (r.state[0] & lowerMask)
		r.state[n-1] = r.state[m-1] ^ (y >> 1) ^ mag01[y&1]
		r.index = 0
	}

	y := r.state[r.index]
	r.index++
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// getRandBits returns k uniformly random bits (k <= 32), matching
// CPython's random_getrandbits fast path.
func (r *Rand) getRandBits(k int) uint32 {
	return r.genrandUint32() >> (32 - uint(k))
}

func bitLength(v int) int {
	bl := 0
	for v > 0 {
		bl++
		v >>= 1
	}
	return bl
}

// belowN returns a uniformly random int in [0, limit), matching CPython's
// Random._randbelow_with_getrandbits rejection sampling.
func (r *Rand) belowN(limit int) int {
	if limit <= 0 {
		return 0
	}
	k := bitLength(limit)
	v := int(r.getRandBits(k))
	for v >= limit {
		v = int(r.getRandBits(k))
	}
	return v
}

// Shuffle performs an in-place Fisher-Yates shuffle identical to
// random.Random.shuffle, consuming belowN(i+1) for i from len-1 down to 1.
func Shuffle[T any](data []T, r *Rand) {
	for i := len(data) - 1; i >= 1; i-- {
		j := r.belowN(i + 1)
		data[i], data[j] = data[j], data[i]
	}
}

// RandBelow256 draws a single value in [0, 256), matching
// random.randint(0, 255).
func (r *Rand) RandBelow256() byte {
	return byte(r.belowN(256))
}
