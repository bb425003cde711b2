package rdb

import (
	"bytes"
	"encoding/binary"
	"hash/crc64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeLength6(buf *bytes.Buffer, n int) {
	buf.WriteByte(byte(n & 0x3F))
}

func writeAux(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(opAux)
	writeLength6(buf, len(name))
	buf.WriteString(name)
	writeLength6(buf, len(value))
	buf.WriteString(value)
}

func writeStringKV(buf *bytes.Buffer, key, value string) {
	buf.WriteByte(typeString)
	writeLength6(buf, len(key))
	buf.WriteString(key)
	writeLength6(buf, len(value))
	buf.WriteString(value)
}

func finish(buf *bytes.Buffer) []byte {
	buf.WriteByte(opEOF)
	sum := crc64.Checksum(buf.Bytes(), crc64.MakeTable(crc64.ECMA))
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], sum)
	buf.Write(tail[:])
	return buf.Bytes()
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadMissingFileYieldsNoEntriesNoError(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "absent.rdb"))
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestLoadParsesAuxAndStringEntries(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	writeAux(&buf, "redis-ver", "7.0.0")
	writeStringKV(&buf, "greeting", "hello")
	writeStringKV(&buf, "other", "world")
	data := finish(&buf)

	entries, err := Load(writeFile(t, data))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("greeting"), entries[0].Key)
	require.Equal(t, []byte("hello"), entries[0].Value)
	require.False(t, entries[0].HasExpiry)
}

func TestLoadAppliesMillisecondExpiry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opExpireMs)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], 9999999999999)
	buf.Write(ts[:])
	writeStringKV(&buf, "future", "alive")
	data := finish(&buf)

	entries, err := Load(writeFile(t, data))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].HasExpiry)
	require.Equal(t, int64(9999999999999), entries[0].ExpiresAtMs)
}

func TestLoadSkipsAlreadyExpiredEntries(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opExpireSec)
	var ts [4]byte
	binary.LittleEndian.PutUint32(ts[:], 1)
	buf.Write(ts[:])
	writeStringKV(&buf, "long-gone", "v")
	data := finish(&buf)

	entries, err := Load(writeFile(t, data))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	data := []byte("NOTREDIS1")
	_, err := Load(writeFile(t, data))
	require.Error(t, err)
}

func TestLoadRejectsUnsupportedOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(0x01) // list type, unsupported in this reader
	data := buf.Bytes()
	_, err := Load(writeFile(t, data))
	require.Error(t, err)
}
