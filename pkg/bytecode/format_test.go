package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *Module {
	m := NewModule()
	answer := m.AddConstant(IntConstant(42))
	greeting := m.AddConstant(StringConstant("hi"))
	m.AddGlobal("ANSWER", answer)
	m.AddFunction(Function{
		Name:   "main",
		Params: 0,
		Locals: 1,
		Instructions: []Instruction{
			LoadConst(answer),
			StoreLocal(0),
			LoadLocal(0),
			LoadConst(greeting),
			Pop,
			Return,
		},
	})
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := sampleModule()

	var buf bytes.Buffer
	require.NoError(t, Encode(original, &buf))
	require.NotZero(t, buf.Len())

	decoded, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, original.Constants, decoded.Constants)
	assert.Equal(t, original.Globals, decoded.Globals)
	require.Len(t, decoded.Functions, 1)
	assert.Equal(t, original.Functions[0].Instructions, decoded.Functions[0].Instructions)
}

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	original := sampleModule()
	data, err := EncodeBytes(original)
	require.NoError(t, err)

	decoded, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, original.Functions[0].Name, decoded.Functions[0].Name)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	_, err := Decode(&buf)
	assert.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x54, 0x59, 0x41, 0x4B, 99, 0, 0, 0})
	_, err := Decode(&buf)
	assert.Error(t, err)
}

func TestEncodeDecodeEmptyModule(t *testing.T) {
	original := NewModule()
	var buf bytes.Buffer
	require.NoError(t, Encode(original, &buf))
	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Empty(t, decoded.Constants)
	assert.Empty(t, decoded.Globals)
	assert.Empty(t, decoded.Functions)
}

func TestSerializeRoundTrip(t *testing.T) {
	original := sampleModule()
	data, err := original.Serialize()
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, original.Constants, decoded.Constants)
	assert.Len(t, decoded.Globals, len(original.Globals))
	assert.Len(t, decoded.Functions, len(original.Functions))
}
