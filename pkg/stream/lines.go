package stream

import (
	"bufio"
	"bytes"
	"io"
)

// MaxRecordSize is the longest record accepted on a stream. Longer records
// are discarded as malformed.
const MaxRecordSize = 1 << 20

type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// next returns the next newline-terminated record without its line ending.
// oversized is true when the record exceeded MaxRecordSize; its content is
// dropped. A final record without a trailing newline is still returned.
func (l *lineReader) next() (line []byte, oversized bool, err error) {
	var buf []byte
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > MaxRecordSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && (len(buf) > 0 || oversized):
			return bytes.TrimSpace(buf), oversized, nil
		case err != nil:
			return nil, false, err
		}
		return bytes.TrimSpace(buf), oversized, nil
	}
}
