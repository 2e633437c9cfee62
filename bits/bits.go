// Package bits packs and unpacks little-endian integers and writes
// length-prefixed strings. Put functions return the remainder of the
// destination slice, Get functions return the remainder of the source slice.
// Callers must size the slices; nothing here checks bounds.
package bits

func Put8(b []byte, v uint8) []byte {
	b[0] = v
	return b[1:]
}

func Put16(b []byte, v uint16) []byte {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	return b[2:]
}

func Put64(b []byte, v uint64) []byte {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v >> 16)
	b[3] = uint8(v >> 24)
	b[4] = uint8(v >> 32)
	b[5] = uint8(v >> 40)
	b[6] = uint8(v >> 48)
	b[7] = uint8(v >> 56)
	return b[8:]
}

// Puts writes a string prefixed by its 16-bit length. Strings longer than
// 65535 bytes are clipped.
func Puts(b []byte, v string) []byte {
	if len(v) > MaxString {
		v = v[:MaxString]
	}
	vlen := uint16(len(v))
	b = Put16(b, vlen)
	copy(b, v)
	return b[vlen:]
}

// MaxString is the longest string Puts can encode.
const MaxString = 1<<16 - 1

func Get8(b []byte) (uint8, []byte) {
	return b[0], b[1:]
}

func Get16(b []byte) (uint16, []byte) {
	v := uint16(b[0])
	v += uint16(b[1]) << 8
	return v, b[2:]
}

func Get64(b []byte) (uint64, []byte) {
	v := uint64(b[0])
	v += uint64(b[1]) << 8
	v += uint64(b[2]) << 16
	v += uint64(b[3]) << 24
	v += uint64(b[4]) << 32
	v += uint64(b[5]) << 40
	v += uint64(b[6]) << 48
	v += uint64(b[7]) << 56
	return v, b[8:]
}

