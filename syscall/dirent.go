package syscall

// Directory entry record layout marshalled into the getdents buffer:
// {ino(4), off/next(4), reclen(2), type(1), name[]}, the whole record
// padded to a 4-byte boundary.
const direntHeaderLen = 4 + 4 + 2 + 1

func direntReclen(nameLen int) int {
	n := direntHeaderLen + nameLen + 1 // +1 for the NUL terminator
	return (n + 3) &^ 3
}

// marshalDirent appends one directory-entry record to buf and returns
// the result.
func marshalDirent(buf []byte, ino int, next int, ftype int, name string) []byte {
	reclen := direntReclen(len(name))
	rec := make([]byte, reclen)
	putU32(rec[0:4], uint32(ino))
	putU32(rec[4:8], uint32(next))
	putU16(rec[8:10], uint16(reclen))
	rec[10] = byte(ftype)
	copy(rec[direntHeaderLen:], name)
	// rec[direntHeaderLen+len(name):] is already zeroed (the NUL
	// terminator and any padding).
	return append(buf, rec...)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
