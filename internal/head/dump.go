package head

import (
	"encoding/hex"
	"fmt"
	"io"
	"unsafe"
)

// dumpPayloadMax bounds how much of the payload is printed after the head.
const dumpPayloadMax = 32

// Dump writes a diagnostic report of the head in front of p, followed by the
// first bytes of its payload. Every line is prefixed with prefix.
//
// The payload is only printed when the head looks live, since the recorded size
// of a corrupted head cannot be trusted.
func Dump(w io.Writer, p unsafe.Pointer, prefix string) {
	if w == nil {
		return
	}
	if p == nil {
		fmt.Fprintf(w, "%sdata: <nil>\n", prefix)
		return
	}

	h := Of(p)
	state := "live"
	switch h.Magic {
	case Magic:
	case FreedMagic:
		state = "freed"
	default:
		state = "corrupted"
	}

	fmt.Fprintf(w, "%sdata: %p\n", prefix, p)
	fmt.Fprintf(w, "%shead: magic=%#08x (%s) flags=%#x size=%d\n",
		prefix, h.Magic, state, h.Flags, h.Size)

	raw := unsafe.Slice((*byte)(unsafe.Add(p, -Size)), Size)
	writeHex(w, prefix, raw)

	if h.Magic != Magic {
		return
	}
	n := min(int(h.Size), dumpPayloadMax)
	if n > 0 {
		fmt.Fprintf(w, "%spayload[:%d]:\n", prefix, n)
		writeHex(w, prefix, unsafe.Slice((*byte)(p), n))
	}
}

func writeHex(w io.Writer, prefix string, b []byte) {
	for off := 0; off < len(b); off += 16 {
		end := min(off+16, len(b))
		fmt.Fprintf(w, "%s  %04x  %s\n", prefix, off, hex.EncodeToString(b[off:end]))
	}
}
