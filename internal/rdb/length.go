package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	lzf "github.com/zhuyie/golzf"
)

// Special string-encoding subtypes, the low 6 bits of a length byte whose
// top 2 bits are 11.
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// readLength reads a length-encoded integer. When special is true, length
// holds the encoding subtype (encInt8/16/32/LZF) rather than an actual
// length, exactly as the top-bits-11 case of the RDB length encoding
// defines it.
func readLength(r *bufio.Reader) (length uint64, special bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch (first & 0xC0) >> 6 {
	case 0: // 6-bit length
		return uint64(first & 0x3F), false, nil

	case 1: // 14-bit length
		second, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), false, nil

	case 2: // 32-bit length, big-endian
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, false, err
		}
		return uint64(binary.BigEndian.Uint32(buf)), false, nil

	case 3: // special encoding; low 6 bits name the subtype
		return uint64(first & 0x3F), true, nil
	}

	return 0, false, fmt.Errorf("rdb: unreachable length encoding")
}

// readString reads a length-prefixed RDB string, transparently decoding
// the special integer and LZF encodings a real Redis dump can carry.
func readString(r *bufio.Reader) ([]byte, error) {
	length, special, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("read string length: %w", err)
	}
	if !special {
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read string data: %w", err)
		}
		return buf, nil
	}

	switch length {
	case encInt8:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read int8-encoded string: %w", err)
		}
		return []byte(strconv.Itoa(int(int8(b)))), nil

	case encInt16:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read int16-encoded string: %w", err)
		}
		return []byte(strconv.Itoa(int(int16(binary.LittleEndian.Uint16(buf))))), nil

	case encInt32:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read int32-encoded string: %w", err)
		}
		return []byte(strconv.Itoa(int(int32(binary.LittleEndian.Uint32(buf))))), nil

	case encLZF:
		return readLZFString(r)

	default:
		return nil, fmt.Errorf("rdb: unsupported string encoding subtype %d", length)
	}
}

// readLZFString decodes the [compressed_len][original_len][payload] LZF
// string form using golzf, the same decompressor boomballa-df2redis's
// replica reader reaches for when it pulls snapshots off a live master.
func readLZFString(r *bufio.Reader) ([]byte, error) {
	compressedLen, _, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("read lzf compressed length: %w", err)
	}
	originalLen, _, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("read lzf original length: %w", err)
	}

	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("read lzf payload: %w", err)
	}

	out := make([]byte, originalLen)
	n, err := lzf.Decompress(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("lzf decompress: %w", err)
	}
	if uint64(n) != originalLen {
		return nil, fmt.Errorf("lzf decompressed length mismatch: expected %d, got %d", originalLen, n)
	}
	return out, nil
}
