package value

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"u32:42",
		"i32:-7",
		"i64:-9001",
		"u64:9001",
		"float:1.5",
		"double:2.25",
		"data:0xDEADBEEF",
		"cstring:blue",
		"blue",
	}
	for _, s := range cases {
		v, err := Parse(s)
		require.NoError(t, err, s)
		back, err := Parse(Format(v, true))
		require.NoError(t, err, s)
		assert.Equal(t, v, back, s)
	}
}

func TestParseUnknownTagFallsBackToCString(t *testing.T) {
	v, err := Parse("http://example.com:8080/x")
	require.NoError(t, err)
	assert.Equal(t, CString, v.Type)
	assert.Equal(t, "http://example.com:8080/x\x00", string(v.Bytes))
}

func TestCStringIncludesTrailingNUL(t *testing.T) {
	v := CStringValue("blue")
	assert.Equal(t, []byte("blue\x00"), v.Bytes)
	assert.Equal(t, "blue", Format(v, false))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vals := []Value{
		U32Value(7),
		I64Value(-123456),
		DataValue([]byte{0xde, 0xad, 0xbe, 0xef}),
		CStringValue("hello"),
		{Type: Undef, Bytes: nil},
	}
	for _, v := range vals {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, v))
		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, v.Type, got.Type)
		assert.Equal(t, v.Bytes, got.Bytes)
	}
}

func TestDecodeEnforcesExactLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, U32Value(1)))
	truncated := buf.Bytes()[:len(buf.Bytes())-1]
	_, err := Decode(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestDupIsDeepCopy(t *testing.T) {
	v := DataValue([]byte{1, 2, 3})
	d := v.Dup()
	d.Bytes[0] = 0xff
	assert.Equal(t, byte(1), v.Bytes[0])
}
