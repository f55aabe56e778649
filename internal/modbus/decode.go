package modbus

import "strings"

// Words is a block of registers read in one request, addressed by absolute
// register address.
type Words struct {
	Start uint16
	Regs  []uint16
}

func (w Words) word(address uint16) uint16 {
	i := int(address) - int(w.Start)
	if i < 0 || i >= len(w.Regs) {
		return 0
	}
	return w.Regs[i]
}

func (w Words) Uint16(address uint16) uint16 { return w.word(address) }

func (w Words) Int16(address uint16) int16 { return int16(w.word(address)) }

// Uint32 decodes a low word first value.
func (w Words) Uint32(address uint16) uint32 {
	return uint32(w.word(address)) | uint32(w.word(address+1))<<16
}

func (w Words) Int32(address uint16) int32 { return int32(w.Uint32(address)) }

// String decodes big endian byte pairs and strips trailing NULs and spaces.
func (w Words) String(address, length uint16) string {
	b := make([]byte, 0, int(length)*2)
	for i := uint16(0); i < length; i++ {
		reg := w.word(address + i)
		b = append(b, byte(reg>>8), byte(reg))
	}
	return strings.TrimRight(string(b), "\x00 ")
}
