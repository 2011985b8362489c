package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNamesRoundTrip(t *testing.T) {
	for s := OK; s <= Interrupted; s++ {
		got, ok := ParseStatus(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "Status(99)", Status(99).String())
}

func TestCallNamesRoundTrip(t *testing.T) {
	for c := GetPID; c <= InvokeCap; c++ {
		got, ok := ParseCall(c.String())
		require.True(t, ok)
		assert.Equal(t, c, got)
	}
	_, ok := ParseCall("fork")
	assert.False(t, ok)
}

func TestRegisters(t *testing.T) {
	assert.Equal(t, Reg(10), A0)
	assert.Equal(t, Reg(17), A7)
	assert.Equal(t, Reg(5), T0)
	assert.Equal(t, A3, Arg(3))
	assert.Equal(t, "ecause", ECAUSE.String())

	r, err := ParseReg("S11")
	require.NoError(t, err)
	assert.Equal(t, S11, r)

	_, err = ParseReg("x99")
	assert.Error(t, err)
}
