package resp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []Value{
		SimpleString("OK"),
		Error("ERR wrong number of arguments"),
		Integer(42),
		Integer(-7),
		BulkString("hello"),
		NullBulk(),
		Array(BulkString("a"), BulkString("b")),
		NullArray(),
		Array(),
	}
	for _, v := range cases {
		wire := Encode(v)
		got, n, err := Decode(wire)
		require.NoError(t, err)
		require.Equal(t, len(wire), n)
		require.Equal(t, v, got)
	}
}

func TestDecodeIncompleteThenComplete(t *testing.T) {
	full := EncodeCommand([][]byte{[]byte("SET"), []byte("foo"), []byte("bar")})
	for i := 0; i < len(full)-1; i++ {
		_, _, err := Decode(full[:i])
		require.ErrorIs(t, err, ErrIncomplete)
	}
	v, n, err := Decode(full)
	require.NoError(t, err)
	require.Equal(t, len(full), n)
	cmd, err := CommandFromValue(v)
	require.NoError(t, err)
	require.Equal(t, "SET", cmd.Name)
	require.Equal(t, [][]byte{[]byte("foo"), []byte("bar")}, cmd.Args)
}

func TestDecodeBulkIsBinarySafe(t *testing.T) {
	payload := []byte("abc\r\ndef\x00ghi")
	wire := Encode(BulkString(string(payload)))
	v, n, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, payload, v.Bulk)
}

func TestFramerHandlesPipelinedCommands(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(EncodeCommand([][]byte{[]byte("PING")}))
	wire.Write(EncodeCommand([][]byte{[]byte("ECHO"), []byte("hi")}))

	f := NewFramer(bufio.NewReader(&wire))

	v1, _, err := f.Next()
	require.NoError(t, err)
	cmd1, err := CommandFromValue(v1)
	require.NoError(t, err)
	require.Equal(t, "PING", cmd1.Name)

	v2, _, err := f.Next()
	require.NoError(t, err)
	cmd2, err := CommandFromValue(v2)
	require.NoError(t, err)
	require.Equal(t, "ECHO", cmd2.Name)
	require.Equal(t, [][]byte{[]byte("hi")}, cmd2.Args)
}

func TestCommandFromValueRejectsMalformed(t *testing.T) {
	_, err := CommandFromValue(BulkString("PING"))
	require.Error(t, err)

	_, err = CommandFromValue(Array())
	require.Error(t, err)

	_, err = CommandFromValue(Array(NullBulk()))
	require.Error(t, err)
}
