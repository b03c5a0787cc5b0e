package sxmfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// Sentinel lines terminating the text header of each file family.
const (
	BinarySentinel = "[BinaryData]" // scan frames: binary channel blocks follow
	DataSentinel   = "[Data]"       // spectroscopy sweeps: ASCII sample rows follow
	BlockSentinel  = "[Spectrum]"   // multi-sweep files: starts the next sweep section
)

// DefaultMaxHeaderBytes bounds the header section when the caller does
// not configure a limit.
const DefaultMaxHeaderBytes = 1 << 20

// commentPrefix marks header lines the instrument writes as remarks.
const commentPrefix = ";"

// ReadHeader consumes `Key : value` lines from br until it meets the
// sentinel line, returning the typed header and the number of bytes
// consumed including the sentinel. Blank lines and ;-comments are
// skipped. The reader is left positioned at the first byte after the
// sentinel's newline. Hitting EOF or maxBytes before the sentinel is a
// MalformedHeader error.
func ReadHeader(br *bufio.Reader, sentinel string, maxBytes int) (*domain.Header, int64, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHeaderBytes
	}

	hdr := domain.NewHeader()
	var consumed int64

	for {
		line, err := br.ReadString('\n')
		consumed += int64(len(line))

		if len(line) > 0 {
			trimmed := strings.TrimRight(line, "\r\n")
			stripped := strings.TrimSpace(trimmed)

			switch {
			case stripped == sentinel:
				if err == io.EOF || err == nil {
					return hdr, consumed, nil
				}
				return nil, consumed, errs.IOFailure("read header", err)
			case stripped == "" || strings.HasPrefix(stripped, commentPrefix):
				// skip
			default:
				key, value, found := strings.Cut(trimmed, ":")
				if !found {
					return nil, consumed, errs.MalformedHeader(
						fmt.Sprintf("header line %q has no key separator", stripped), nil)
				}
				hdr.Set(strings.TrimSpace(key), parseHeaderValue(value))
			}
		}

		if err == io.EOF {
			return nil, consumed, errs.MalformedHeader(
				fmt.Sprintf("sentinel %q not found before end of file", sentinel), nil)
		}
		if err != nil {
			return nil, consumed, errs.IOFailure("read header", err)
		}
		if consumed > int64(maxBytes) {
			return nil, consumed, errs.MalformedHeader(
				fmt.Sprintf("sentinel %q not found within %d bytes", sentinel, maxBytes), nil)
		}
	}
}

// AcquisitionTime combines the Date and Time header fields. A zero time
// is returned when either is absent or does not parse; the timestamp is
// advisory metadata, never a decode failure.
func AcquisitionTime(hdr *domain.Header) time.Time {
	dateStr, ok := hdr.Text("Date")
	if !ok {
		return time.Time{}
	}

	var day time.Time
	var err error
	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		day, err = time.Parse(layout, dateStr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}
	}

	if timeStr, ok := hdr.Text("Time"); ok {
		if clock, cerr := time.Parse("15:04:05", timeStr); cerr == nil {
			return time.Date(day.Year(), day.Month(), day.Day(),
				clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
		}
	}
	return day
}
