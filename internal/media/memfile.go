package media

import (
	"fmt"
	"io"
)

// avseekSize is the libav whence value asking for the stream size
const avseekSize = 0x10000

// memoryFile is a growable in-memory file supporting the writes and seeks a
// muxer performs when patching headers
type memoryFile struct {
	buf []byte
	pos int64
}

func (m *memoryFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, max(end, int64(cap(m.buf))*2))
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	m.pos = abs
	return abs, nil
}

// seek adapts Seek to libav, which also asks for the size
func (m *memoryFile) seek(offset int64, whence int) (int64, error) {
	if whence&avseekSize != 0 {
		return int64(len(m.buf)), nil
	}
	return m.Seek(offset, whence)
}

func (m *memoryFile) Bytes() []byte {
	return m.buf
}
