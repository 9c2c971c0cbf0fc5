package vdf

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIterations = 300

func TestProveVerifyRoundTrip(t *testing.T) {
	e := DefaultEngine()
	seed := []byte("round trip seed")

	proof, err := e.Prove(seed, testIterations)
	require.NoError(t, err)
	require.NoError(t, e.Verify(seed, testIterations, proof))
}

func TestProveDeterministic(t *testing.T) {
	e := DefaultEngine()
	seed := []byte("determinism")

	p1, err := e.Prove(seed, testIterations)
	require.NoError(t, err)
	p2, err := e.Prove(seed, testIterations)
	require.NoError(t, err)

	assert.Equal(t, p1.Y, p2.Y)
	assert.Equal(t, p1.Pi, p2.Pi)
	assert.Equal(t, p1.L, p2.L)
	assert.Equal(t, p1.R, p2.R)
}

func TestWesolowskiIdentity(t *testing.T) {
	// y == π^l · x^r (mod N) must hold directly on the proof elements,
	// independent of the Verify implementation.
	e := DefaultEngine()
	seed := []byte("algebraic identity")

	proof, err := e.Prove(seed, testIterations)
	require.NoError(t, err)

	x, err := e.hashToGroup(seed)
	require.NoError(t, err)

	n := e.Modulus()
	y := new(big.Int).SetBytes(proof.Y)
	pi := new(big.Int).SetBytes(proof.Pi)
	l := new(big.Int).SetBytes(proof.L)
	r := new(big.Int).SetBytes(proof.R)

	rhs := new(big.Int).Exp(pi, l, n)
	rhs.Mul(rhs, new(big.Int).Exp(x, r, n))
	rhs.Mod(rhs, n)
	assert.Zero(t, y.Cmp(rhs))
}

func TestChallengePrimeExactly128Bits(t *testing.T) {
	e := DefaultEngine()
	proof, err := e.Prove([]byte("challenge width"), testIterations)
	require.NoError(t, err)

	l := new(big.Int).SetBytes(proof.L)
	assert.Equal(t, securityBits, l.BitLen())
	assert.True(t, millerRabin(l, 20))
}

func TestVerifyRejectsTampering(t *testing.T) {
	e := DefaultEngine()
	seed := []byte("tamper target")
	proof, err := e.Prove(seed, testIterations)
	require.NoError(t, err)

	flip := func(p Proof, field string) Proof {
		out := Proof{
			Y:  append([]byte(nil), p.Y...),
			Pi: append([]byte(nil), p.Pi...),
			L:  append([]byte(nil), p.L...),
			R:  append([]byte(nil), p.R...),
		}
		switch field {
		case "y":
			out.Y[0] ^= 0x01
		case "pi":
			out.Pi[0] ^= 0x01
		case "l":
			out.L[len(out.L)-1] ^= 0x02
		case "r":
			out.R[len(out.R)-1] ^= 0x02
		}
		return out
	}

	for _, field := range []string{"y", "pi", "l", "r"} {
		assert.Error(t, e.Verify(seed, testIterations, flip(proof, field)), "tampered %s accepted", field)
	}
}

func TestVerifyRejectsWrongContext(t *testing.T) {
	e := DefaultEngine()
	seed := []byte("context binding")
	proof, err := e.Prove(seed, testIterations)
	require.NoError(t, err)

	assert.Error(t, e.Verify([]byte("different seed"), testIterations, proof))
	assert.Error(t, e.Verify(seed, testIterations+1, proof))
}

func TestVerifyRejectsShortChallenge(t *testing.T) {
	e := DefaultEngine()
	seed := []byte("short challenge")
	proof, err := e.Prove(seed, testIterations)
	require.NoError(t, err)

	// 65537 is prime but far below the 120-bit floor.
	proof.L = big.NewInt(65537).Bytes()
	err = e.Verify(seed, testIterations, proof)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestProveParameterValidation(t *testing.T) {
	e := DefaultEngine()

	_, err := e.Prove(nil, testIterations)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = e.Prove([]byte("seed"), 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestNewEngineFromModulus(t *testing.T) {
	orig := DefaultEngine()
	restored, err := NewEngineFromModulus(orig.ModulusBytes())
	require.NoError(t, err)
	assert.Zero(t, restored.Modulus().Cmp(orig.Modulus()))

	_, err = NewEngineFromModulus(nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	// 512-bit modulus is below the verification floor.
	small := new(big.Int).Lsh(big.NewInt(1), 511)
	small.SetBit(small, 0, 1)
	_, err = NewEngineFromModulus(small.Bytes())
	assert.ErrorIs(t, err, ErrInvalidParameters)

	// Even modulus cannot be an RSA product.
	even := new(big.Int).Lsh(big.NewInt(1), 1100)
	_, err = NewEngineFromModulus(even.Bytes())
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestDefaultModulusStrength(t *testing.T) {
	assert.NoError(t, DefaultEngine().CheckModulusStrength())
	assert.Equal(t, 2048, DefaultEngine().ModulusBits())
}

func TestMillerRabinKnownValues(t *testing.T) {
	cases := []struct {
		n     int64
		prime bool
	}{
		{0, false}, {1, false}, {2, true}, {3, true}, {4, false},
		{17, true}, {25, false}, {561, false}, // 561 is a Carmichael number
		{65537, true}, {65539, true}, {65541, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.prime, millerRabin(big.NewInt(tc.n), 20), "n=%d", tc.n)
	}

	// A 128-bit prime: 2^127 - 1 (Mersenne).
	m127 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	assert.True(t, millerRabin(m127, 40))
	assert.False(t, millerRabin(new(big.Int).Add(m127, big.NewInt(2)), 40))
}

func TestGeneratePrimeBitLength(t *testing.T) {
	p, err := generatePrime(128)
	require.NoError(t, err)
	assert.Equal(t, 128, p.BitLen())
	assert.True(t, millerRabin(p, 40))
}
