package ffmpeg

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var startCode = []byte{0, 0, 0, 1}

// nalScanner splits an Annex B byte stream into NAL units, start codes
// stripped.
type nalScanner struct {
	r       *bufio.Reader
	started bool
}

func newNALScanner(r io.Reader) *nalScanner {
	return &nalScanner{r: bufio.NewReaderSize(r, 64<<10)}
}

func (s *nalScanner) skipToStart() error {
	zeros := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b == 1 && zeros >= 2 {
			return nil
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
}

// next returns the next non-empty NAL unit, or io.EOF once the stream ends.
func (s *nalScanner) next() ([]byte, error) {
	if !s.started {
		if err := s.skipToStart(); err != nil {
			return nil, err
		}
		s.started = true
	}

	var nal []byte
	zeros := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			nal = bytes.TrimRight(nal, "\x00")
			if errors.Is(err, io.EOF) && len(nal) > 0 {
				return nal, nil
			}
			return nil, err
		}
		if b == 1 && zeros >= 2 {
			nal = nal[:len(nal)-zeros]
			if len(nal) > 0 {
				return nal, nil
			}
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		nal = append(nal, b)
	}
}

func nalType(format vram.DataFormat, nal []byte) int {
	if format == vram.FormatH265 {
		return int(nal[0]>>1) & 0x3F
	}
	return int(nal[0]) & 0x1F
}

func isAUD(format vram.DataFormat, nal []byte) bool {
	t := nalType(format, nal)
	if format == vram.FormatH265 {
		return t == 35
	}
	return t == 9
}

// isKey reports an IDR slice for H.264 or any IRAP picture for H.265.
func isKey(format vram.DataFormat, nal []byte) bool {
	t := nalType(format, nal)
	if format == vram.FormatH265 {
		return t >= 16 && t <= 21
	}
	return t == 5
}

// auReader groups NAL units into access units delimited by AUD NALs, which
// the encoder process is told to insert.
type auReader struct {
	nals    *nalScanner
	format  vram.DataFormat
	pending []byte
}

func newAUReader(r io.Reader, format vram.DataFormat) *auReader {
	return &auReader{nals: newNALScanner(r), format: format}
}

// next returns one access unit re-framed with 4-byte start codes.
func (a *auReader) next() (data []byte, key bool, err error) {
	var au [][]byte
	if a.pending != nil {
		au = append(au, a.pending)
		a.pending = nil
	}
	for {
		nal, err := a.nals.next()
		if err != nil {
			if errors.Is(err, io.EOF) && len(au) > 0 {
				break
			}
			return nil, false, err
		}
		if isAUD(a.format, nal) && len(au) > 0 {
			a.pending = nal
			break
		}
		au = append(au, nal)
	}

	for _, nal := range au {
		data = append(data, startCode...)
		data = append(data, nal...)
		if isKey(a.format, nal) {
			key = true
		}
	}
	return data, key, nil
}
