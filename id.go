package spanlog

// ID is an opaque 128-bit identifier. Trace IDs and span IDs share this
// representation and its text codec; no value is privileged.
//
// The zero ID doubles as "absent": root spans have a zero ParentID, and
// generated IDs always carry a nonzero timestamp half.
type ID struct {
	Hi uint64
	Lo uint64
}

// idAlphabet maps each 5-bit group to its symbol: digits then lowercase
// letters, in that fixed order.
const idAlphabet = "0123456789abcdefghijklmnopqrstuv"

// maxEncodedLen is ceil(128/5).
const maxEncodedLen = 26

// IsZero reports whether the ID is the zero (absent) value.
func (id ID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// String encodes the ID as compact radix-32 text: 5-bit groups,
// most-significant first, leading zero groups omitted. The zero ID encodes
// to "0". At most 26 characters.
func (id ID) String() string {
	var buf [maxEncodedLen]byte
	hi, lo := id.Hi, id.Lo
	i := maxEncodedLen
	for {
		i--
		buf[i] = idAlphabet[lo&0x1f]
		lo = lo>>5 | hi<<59
		hi >>= 5
		if hi == 0 && lo == 0 {
			break
		}
	}
	return string(buf[i:])
}

// ParseID decodes radix-32 text produced by String. It reports false for the
// empty string, strings longer than 26 characters, and any character outside
// the alphabet; it never falls back to a default value.
func ParseID(s string) (ID, bool) {
	if len(s) == 0 || len(s) > maxEncodedLen {
		return ID{}, false
	}
	var id ID
	for i := 0; i < len(s); i++ {
		c := s[i]
		var v uint64
		switch {
		case c >= '0' && c <= '9':
			v = uint64(c - '0')
		case c >= 'a' && c <= 'v':
			v = uint64(c-'a') + 10
		default:
			return ID{}, false
		}
		id.Hi = id.Hi<<5 | id.Lo>>59
		id.Lo = id.Lo<<5 | v
	}
	return id, true
}
