package resp

import "strconv"

// Encode serializes v to its RESP wire form.
func Encode(v Value) []byte {
	switch v.Type {
	case TypeSimple:
		return encodeLine('+', v.Str)
	case TypeError:
		return encodeLine('-', v.Str)
	case TypeInteger:
		return encodeLine(':', strconv.FormatInt(v.Int, 10))
	case TypeBulk:
		return encodeBulk(v)
	case TypeArray:
		return encodeArray(v)
	default:
		return nil
	}
}

func encodeLine(marker byte, s string) []byte {
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, marker)
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

func encodeBulk(v Value) []byte {
	if v.IsNull {
		return []byte("$-1\r\n")
	}
	header := strconv.Itoa(len(v.Bulk))
	buf := make([]byte, 0, 1+len(header)+2+len(v.Bulk)+2)
	buf = append(buf, '$')
	buf = append(buf, header...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, v.Bulk...)
	return append(buf, '\r', '\n')
}

func encodeArray(v Value) []byte {
	if v.IsNull {
		return []byte("*-1\r\n")
	}
	header := strconv.Itoa(len(v.Array))
	buf := make([]byte, 0, 1+len(header)+2)
	buf = append(buf, '*')
	buf = append(buf, header...)
	buf = append(buf, '\r', '\n')
	for _, item := range v.Array {
		buf = append(buf, Encode(item)...)
	}
	return buf
}

// EncodeCommand serializes args as a RESP array of bulk strings — the wire
// form a client request and a propagated write both take.
func EncodeCommand(args [][]byte) []byte {
	items := make([]Value, len(args))
	for i, a := range args {
		items[i] = Bulk(a)
	}
	return Encode(Array(items...))
}
