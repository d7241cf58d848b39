package ffmpeg

import (
	"bufio"
	"bytes"
	"strings"
)

// Listing is what the ffmpeg binary reports it was built with.
type Listing struct {
	Encoders map[string]bool
	Decoders map[string]bool
	HWAccels map[string]bool
}

// HasEncoder reports whether name appears in `ffmpeg -encoders`.
func (l Listing) HasEncoder(name string) bool { return l.Encoders[name] }

// HasDecoder reports whether name appears in `ffmpeg -decoders`.
func (l Listing) HasDecoder(name string) bool { return l.Decoders[name] }

// HasHWAccel reports whether name appears in `ffmpeg -hwaccels`.
func (l Listing) HasHWAccel(name string) bool { return l.HWAccels[name] }

// parseCodecList reads the table printed by -encoders and -decoders:
//
//	Encoders:
//	 V..... = Video
//	 ...
//	 ------
//	 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
//
// Only video rows after the dashed separator are kept.
func parseCodecList(out []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// parseHWAccels reads the one-name-per-line output of -hwaccels.
func parseHWAccels(out []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		names[line] = true
	}
	return names
}
