package domain

import (
	"encoding/json"
	"time"
)

// ScanMode classifies how the feedback loop was operated while a frame
// was recorded. Classification is derived from header metadata only.
type ScanMode string

const (
	ScanModeConstantHeight  ScanMode = "constant_height"
	ScanModeConstantCurrent ScanMode = "constant_current"
	ScanModeUnknown         ScanMode = "unknown"
)

// HeaderKind discriminates the interpretations a header field can take
type HeaderKind string

const (
	HeaderKindNumber   HeaderKind = "number"   // bare numeric value
	HeaderKindQuantity HeaderKind = "quantity" // numeric value with a unit token
	HeaderKindText     HeaderKind = "text"     // free text or enumerated token
)

// HeaderValue is one parsed header field. Exactly one interpretation is
// active, selected by Kind; Raw always preserves the source text so a
// frame can be re-encoded without loss.
type HeaderValue struct {
	Kind   HeaderKind `json:"kind"`
	Raw    string     `json:"raw"`
	Number float64    `json:"number,omitempty"` // set for number and quantity kinds
	Unit   string     `json:"unit,omitempty"`   // declared unit token, quantity kind only
	SI     float64    `json:"si,omitempty"`     // value normalized to the SI base unit
	Text   string     `json:"text,omitempty"`   // text kind only
}

// NumberValue builds a bare numeric header value.
func NumberValue(raw string, v float64) HeaderValue {
	return HeaderValue{Kind: HeaderKindNumber, Raw: raw, Number: v, SI: v}
}

// QuantityValue builds a numeric header value carrying a unit token and
// its SI-normalized magnitude.
func QuantityValue(raw string, v float64, unit string, si float64) HeaderValue {
	return HeaderValue{Kind: HeaderKindQuantity, Raw: raw, Number: v, Unit: unit, SI: si}
}

// TextValue builds a textual header value.
func TextValue(raw string) HeaderValue {
	return HeaderValue{Kind: HeaderKindText, Raw: raw, Text: raw}
}

// Header holds the parsed key/value fields of a measurement file in
// source order. Lookups are explicit: absent keys report false rather
// than returning zero values.
type Header struct {
	keys   []string
	values map[string]HeaderValue
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{values: make(map[string]HeaderValue)}
}

// Set stores a field, preserving first-seen key order.
func (h *Header) Set(key string, v HeaderValue) {
	if h.values == nil {
		h.values = make(map[string]HeaderValue)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = v
}

// Lookup returns the field for key and whether it exists.
func (h *Header) Lookup(key string) (HeaderValue, bool) {
	if h == nil || h.values == nil {
		return HeaderValue{}, false
	}
	v, ok := h.values[key]
	return v, ok
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Float returns the numeric value of key. Quantity fields yield their
// declared (pre-normalization) magnitude.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Lookup(key)
	if !ok || v.Kind == HeaderKindText {
		return 0, false
	}
	return v.Number, true
}

// Int returns the numeric value of key truncated to an integer.
func (h *Header) Int(key string) (int, bool) {
	f, ok := h.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Text returns the textual value of key. Non-text fields yield their
// raw source text.
func (h *Header) Text(key string) (string, bool) {
	v, ok := h.Lookup(key)
	if !ok {
		return "", false
	}
	if v.Kind == HeaderKindText {
		return v.Text, true
	}
	return v.Raw, true
}

// SI returns the SI-normalized magnitude of key. Bare numbers normalize
// to themselves.
func (h *Header) SI(key string) (float64, bool) {
	v, ok := h.Lookup(key)
	if !ok || v.Kind == HeaderKindText {
		return 0, false
	}
	return v.SI, true
}

// Keys returns the field names in source order.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Len returns the number of fields.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// headerField is the serialized form of one ordered header entry.
type headerField struct {
	Key   string      `json:"key"`
	Value HeaderValue `json:"value"`
}

// MarshalJSON encodes the header as an ordered field list.
func (h *Header) MarshalJSON() ([]byte, error) {
	fields := make([]headerField, 0, h.Len())
	for _, k := range h.keys {
		fields = append(fields, headerField{Key: k, Value: h.values[k]})
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the ordered field list form.
func (h *Header) UnmarshalJSON(data []byte) error {
	var fields []headerField
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*h = Header{values: make(map[string]HeaderValue, len(fields))}
	for _, f := range fields {
		h.Set(f.Key, f.Value)
	}
	return nil
}

// Grid is a dense row-major 2D sample array. Data holds Rows*Cols values;
// row r, column c lives at index r*Cols+c.
type Grid struct {
	Rows int       `json:"rows" validate:"min=1"`
	Cols int       `json:"cols" validate:"min=1"`
	Data []float64 `json:"data"`
}

// NewGrid allocates a zeroed grid.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the sample at row r, column c.
func (g *Grid) At(r, c int) float64 {
	return g.Data[r*g.Cols+c]
}

// Set stores v at row r, column c.
func (g *Grid) Set(r, c int, v float64) {
	g.Data[r*g.Cols+c] = v
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Channel is one recorded signal of a scan frame, in physical units
// after scale, offset and SI normalization have been applied.
type Channel struct {
	Name string `json:"name" validate:"required"`
	Unit string `json:"unit"` // SI base unit, empty when dimensionless
	Grid *Grid  `json:"grid" validate:"required"`
}

// ScanFrame is a fully decoded measurement frame: every declared channel
// plus the classification derived from its header. All channels share
// the same grid dimensions.
type ScanFrame struct {
	Path       string    `json:"path"`
	Header     *Header   `json:"header"`
	Channels   []Channel `json:"channels" validate:"min=1"`
	Mode       ScanMode  `json:"mode"`
	DZ         *float64  `json:"dz,omitempty"` // meters, constant height frames only
	AcquiredAt time.Time `json:"acquired_at,omitempty"`
}

// Channel returns the named channel, or false when the frame does not
// carry it.
func (f *ScanFrame) Channel(name string) (*Channel, bool) {
	for i := range f.Channels {
		if f.Channels[i].Name == name {
			return &f.Channels[i], true
		}
	}
	return nil, false
}

// Rows returns the per-channel row count, 0 for an empty frame.
func (f *ScanFrame) Rows() int {
	if len(f.Channels) == 0 || f.Channels[0].Grid == nil {
		return 0
	}
	return f.Channels[0].Grid.Rows
}

// Cols returns the per-channel column count, 0 for an empty frame.
func (f *ScanFrame) Cols() int {
	if len(f.Channels) == 0 || f.Channels[0].Grid == nil {
		return 0
	}
	return f.Channels[0].Grid.Cols
}

// ChannelInfo names one channel of a frame without its samples.
type ChannelInfo struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// FrameMeta is the cheap, header-only view of a frame used for listings.
// Producing it never touches the binary payload.
type FrameMeta struct {
	Path       string        `json:"path"`
	Rows       int           `json:"rows"`
	Cols       int           `json:"cols"`
	Channels   []ChannelInfo `json:"channels"`
	Mode       ScanMode      `json:"mode"`
	DZ         *float64      `json:"dz,omitempty"` // meters
	AcquiredAt time.Time     `json:"acquired_at,omitempty"`
	ModTime    time.Time     `json:"mod_time"`
	Size       int64         `json:"size"`
}
