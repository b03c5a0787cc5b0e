// Package sxmfile decodes scan frame files: a line-oriented text header
// terminated by the [BinaryData] sentinel, followed by one fixed-size
// binary block per declared channel. The header declares everything the
// decoder needs: grid dimensions, channel count, sample encoding, byte
// order, and per-channel scale, offset and unit. Nothing is guessed; a
// payload that disagrees with its declaration fails loudly.
package sxmfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// Header field names the decoder consumes. Unrecognized keys pass
// through into the frame's header untouched.
const (
	fieldXPixel       = "xPixel"
	fieldYPixel       = "yPixel"
	fieldChannelCount = "ChannelCount"
	fieldSampleType   = "SampleType"
	fieldByteOrder    = "ByteOrder"
)

// sampleCodec describes one supported sample encoding.
type sampleCodec struct {
	size   int
	decode func(b []byte, order binary.ByteOrder) float64
	encode func(v float64, order binary.ByteOrder, b []byte) error
}

var sampleCodecs = map[string]sampleCodec{
	"int16": {2,
		func(b []byte, o binary.ByteOrder) float64 { return float64(int16(o.Uint16(b))) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			r := math.Round(v)
			if r < math.MinInt16 || r > math.MaxInt16 {
				return fmt.Errorf("value %g out of int16 range", v)
			}
			o.PutUint16(b, uint16(int16(r)))
			return nil
		}},
	"uint16": {2,
		func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint16(b)) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			r := math.Round(v)
			if r < 0 || r > math.MaxUint16 {
				return fmt.Errorf("value %g out of uint16 range", v)
			}
			o.PutUint16(b, uint16(r))
			return nil
		}},
	"int32": {4,
		func(b []byte, o binary.ByteOrder) float64 { return float64(int32(o.Uint32(b))) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			r := math.Round(v)
			if r < math.MinInt32 || r > math.MaxInt32 {
				return fmt.Errorf("value %g out of int32 range", v)
			}
			o.PutUint32(b, uint32(int32(r)))
			return nil
		}},
	"uint32": {4,
		func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint32(b)) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			r := math.Round(v)
			if r < 0 || r > math.MaxUint32 {
				return fmt.Errorf("value %g out of uint32 range", v)
			}
			o.PutUint32(b, uint32(r))
			return nil
		}},
	"float32": {4,
		func(b []byte, o binary.ByteOrder) float64 { return float64(math.Float32frombits(o.Uint32(b))) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			o.PutUint32(b, math.Float32bits(float32(v)))
			return nil
		}},
	"float64": {8,
		func(b []byte, o binary.ByteOrder) float64 { return math.Float64frombits(o.Uint64(b)) },
		func(v float64, o binary.ByteOrder, b []byte) error {
			o.PutUint64(b, math.Float64bits(v))
			return nil
		}},
}

// Parser decodes scan frame files. It is stateless apart from its
// logger and safe for concurrent use.
type Parser struct {
	logger         *slog.Logger
	maxHeaderBytes int
}

// NewParser creates a frame parser. A maxHeaderBytes of 0 applies the
// package default.
func NewParser(logger *slog.Logger, maxHeaderBytes int) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Parser{logger: logger, maxHeaderBytes: maxHeaderBytes}
}

// layout is the decoded shape of a frame file, resolved from its header.
type layout struct {
	rows, cols int
	channels   []channelDecl
	codec      sampleCodec
	codecName  string
	order      binary.ByteOrder
}

// channelDecl is one channel's declared decode parameters.
type channelDecl struct {
	name   string
	unit   string // declared token
	base   string // SI base unit
	factor float64
	scale  float64
	offset float64
}

// blockBytes returns the byte size of one channel block.
func (l *layout) blockBytes() int {
	return l.rows * l.cols * l.codec.size
}

// payloadBytes returns the expected total payload size.
func (l *layout) payloadBytes() int {
	return l.blockBytes() * len(l.channels)
}

// resolveLayout interprets the decode-relevant header fields.
func resolveLayout(hdr *domain.Header) (*layout, error) {
	cols, ok := hdr.Int(fieldXPixel)
	if !ok {
		return nil, errs.MalformedHeader("header missing required field xPixel", nil)
	}
	rows, ok := hdr.Int(fieldYPixel)
	if !ok {
		return nil, errs.MalformedHeader("header missing required field yPixel", nil)
	}
	if cols < 1 || rows < 1 {
		return nil, errs.MalformedHeader(
			fmt.Sprintf("declared dimensions %dx%d are not positive", cols, rows), nil)
	}

	count := 1
	if c, ok := hdr.Int(fieldChannelCount); ok {
		count = c
	}
	if count < 1 {
		return nil, errs.MalformedHeader(
			fmt.Sprintf("declared channel count %d is not positive", count), nil)
	}

	codecName := "int16"
	if t, ok := hdr.Text(fieldSampleType); ok {
		codecName = strings.ToLower(strings.TrimSpace(t))
	}
	codec, ok := sampleCodecs[codecName]
	if !ok {
		return nil, errs.UnknownEncoding(codecName)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if o, ok := hdr.Text(fieldByteOrder); ok {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "little", "little-endian", "le":
			order = binary.LittleEndian
		case "big", "big-endian", "be":
			order = binary.BigEndian
		default:
			return nil, errs.UnknownEncoding(o)
		}
	}

	l := &layout{rows: rows, cols: cols, codec: codec, codecName: codecName, order: order}
	for i := 1; i <= count; i++ {
		decl, err := resolveChannel(hdr, i)
		if err != nil {
			return nil, err
		}
		l.channels = append(l.channels, decl)
	}
	return l, nil
}

// resolveChannel reads the Channel<N>* fields for one channel, applying
// the documented defaults.
func resolveChannel(hdr *domain.Header, n int) (channelDecl, error) {
	decl := channelDecl{
		name:   fmt.Sprintf("Ch%d", n),
		factor: 1,
		scale:  1,
	}

	prefix := fmt.Sprintf("Channel%d", n)
	if name, ok := hdr.Text(prefix + "Name"); ok && name != "" {
		decl.name = name
	}
	if unit, ok := hdr.Text(prefix + "Unit"); ok {
		factor, base, err := SIFactor(unit)
		if err != nil {
			return decl, err
		}
		decl.unit = unit
		decl.base = base
		decl.factor = factor
	}
	if scale, ok := hdr.Float(prefix + "Scale"); ok {
		decl.scale = scale
	}
	if offset, ok := hdr.Float(prefix + "Offset"); ok {
		decl.offset = offset
	}
	return decl, nil
}

// Parse fully decodes one frame file: header, classification, and every
// channel block. Pure decode; the file is only read.
func (p *Parser) Parse(path string) (*domain.ScanFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.FileVanished(path)
		}
		return nil, errs.IOFailure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr, _, err := ReadHeader(br, BinarySentinel, p.maxHeaderBytes)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	lay, err := resolveLayout(hdr)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	payload, err := io.ReadAll(br)
	if err != nil {
		return nil, errs.IOFailure(fmt.Sprintf("read payload of %s", path), err)
	}
	if len(payload) != lay.payloadBytes() {
		return nil, errs.MalformedBinary(
			fmt.Sprintf("payload is %d bytes, header declares %d (%d channel(s) of %dx%d %s samples)",
				len(payload), lay.payloadBytes(), len(lay.channels), lay.cols, lay.rows, lay.codecName),
			nil).WithContext("path", path)
	}

	frame := &domain.ScanFrame{
		Path:       path,
		Header:     hdr,
		AcquiredAt: AcquisitionTime(hdr),
	}

	block := lay.blockBytes()
	for i, decl := range lay.channels {
		grid := domain.NewGrid(lay.rows, lay.cols)
		raw := payload[i*block : (i+1)*block]
		for s := 0; s < lay.rows*lay.cols; s++ {
			sample := lay.codec.decode(raw[s*lay.codec.size:], lay.order)
			grid.Data[s] = (sample*decl.scale + decl.offset) * decl.factor
		}
		frame.Channels = append(frame.Channels, domain.Channel{
			Name: decl.name,
			Unit: decl.base,
			Grid: grid,
		})
	}

	if err := ClassifyFrame(frame); err != nil {
		return nil, wrapPath(err, path)
	}

	p.logger.Debug("frame decoded",
		"path", path,
		"channels", len(frame.Channels),
		"rows", lay.rows,
		"cols", lay.cols,
		"mode", frame.Mode)

	return frame, nil
}

// ParseMeta decodes only the header section and verifies the declared
// payload size against the file size. The binary payload is never read,
// keeping folder listings cheap.
func (p *Parser) ParseMeta(path string) (*domain.FrameMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.FileVanished(path)
		}
		return nil, errs.IOFailure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.IOFailure(fmt.Sprintf("stat %s", path), err)
	}

	br := bufio.NewReader(f)
	hdr, consumed, err := ReadHeader(br, BinarySentinel, p.maxHeaderBytes)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	lay, err := resolveLayout(hdr)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	actual := info.Size() - consumed
	if actual != int64(lay.payloadBytes()) {
		return nil, errs.MalformedBinary(
			fmt.Sprintf("payload is %d bytes, header declares %d", actual, lay.payloadBytes()),
			nil).WithContext("path", path)
	}

	mode, dz, err := Classify(hdr)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	meta := &domain.FrameMeta{
		Path:       path,
		Rows:       lay.rows,
		Cols:       lay.cols,
		Mode:       mode,
		DZ:         dz,
		AcquiredAt: AcquisitionTime(hdr),
		ModTime:    info.ModTime(),
		Size:       info.Size(),
	}
	for _, decl := range lay.channels {
		meta.Channels = append(meta.Channels, domain.ChannelInfo{Name: decl.name, Unit: decl.base})
	}
	return meta, nil
}

// Encode re-encodes the frame's channel grids into the binary payload
// its header declares, inverting scale, offset and unit normalization.
// Integer sample types round to the nearest representable value; a
// sample outside the declared type's range is a MalformedBinary error.
func (p *Parser) Encode(frame *domain.ScanFrame) ([]byte, error) {
	lay, err := resolveLayout(frame.Header)
	if err != nil {
		return nil, err
	}
	if len(frame.Channels) != len(lay.channels) {
		return nil, errs.MalformedBinary(
			fmt.Sprintf("frame has %d channels, header declares %d", len(frame.Channels), len(lay.channels)), nil)
	}

	out := make([]byte, lay.payloadBytes())
	block := lay.blockBytes()
	for i, decl := range lay.channels {
		grid := frame.Channels[i].Grid
		if grid == nil || grid.Rows != lay.rows || grid.Cols != lay.cols {
			return nil, errs.MalformedBinary(
				fmt.Sprintf("channel %s grid does not match declared %dx%d", frame.Channels[i].Name, lay.cols, lay.rows), nil)
		}
		raw := out[i*block : (i+1)*block]
		for s := 0; s < lay.rows*lay.cols; s++ {
			sample := (grid.Data[s]/decl.factor - decl.offset) / decl.scale
			if err := lay.codec.encode(sample, lay.order, raw[s*lay.codec.size:]); err != nil {
				return nil, errs.MalformedBinary(
					fmt.Sprintf("channel %s sample %d: %v", frame.Channels[i].Name, s, err), nil)
			}
		}
	}
	return out, nil
}

// wrapPath attaches the file path to an engine error for logs.
func wrapPath(err error, path string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithContext("path", path)
	}
	return err
}
