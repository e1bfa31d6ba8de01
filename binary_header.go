package ngstore

import (
	"bytes"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
)

type envelopeType uint8

// Magic starts every stored geometry blob ("GP").
var Magic = [2]byte{0x47, 0x50}

const (
	EnvelopeTypeNone    = envelopeType(0)
	EnvelopeTypeXY      = envelopeType(1)
	EnvelopeTypeXYZ     = envelopeType(2)
	EnvelopeTypeXYM     = envelopeType(3)
	EnvelopeTypeXYZM    = envelopeType(4)
	EnvelopeTypeInvalid = envelopeType(5)
)

func (et envelopeType) NumberOfElements() int {
	switch et {
	case EnvelopeTypeNone:
		return 0
	case EnvelopeTypeXY:
		return 4
	case EnvelopeTypeXYZ, EnvelopeTypeXYM:
		return 6
	case EnvelopeTypeXYZM:
		return 8
	default:
		return -1
	}
}

const (
	maskByteOrder     = 1 << 0
	maskEnvelopeType  = 1<<3 | 1<<2 | 1<<1
	maskEmptyGeometry = 1 << 4
)

type headerFlags byte

func (hf headerFlags) String() string { return fmt.Sprintf("0x%02x", uint8(hf)) }

func (hf headerFlags) Endian() binary.ByteOrder {
	if hf&maskByteOrder == 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (hf headerFlags) Envelope() envelopeType {
	et := uint8((hf & maskEnvelopeType) >> 1)
	if et >= uint8(EnvelopeTypeInvalid) {
		return EnvelopeTypeInvalid
	}
	return envelopeType(et)
}

func (hf headerFlags) IsEmpty() bool { return ((hf & maskEmptyGeometry) >> 4) == 1 }

func encodeHeaderFlags(byteOrder binary.ByteOrder, envelope envelopeType, emptyGeom bool) headerFlags {
	var hf byte
	if byteOrder == binary.LittleEndian {
		hf = 1
	}
	hf = hf | byte(envelope)<<1
	if emptyGeom {
		hf = hf | maskEmptyGeometry
	}
	return headerFlags(hf)
}

// BinaryHeader precedes the WKB payload of a geometry column value.
type BinaryHeader struct {
	magic    [2]byte
	version  uint8
	flags    headerFlags
	srsid    int32
	envelope []float64
}

func newBinaryHeader(byteOrder binary.ByteOrder, srsid int32, envelope []float64, et envelopeType, emptyGeom bool) (*BinaryHeader, error) {
	if et.NumberOfElements() != len(envelope) {
		return nil, errors.New("envelope does not match envelope type")
	}
	return &BinaryHeader{
		magic:    Magic,
		flags:    encodeHeaderFlags(byteOrder, et, emptyGeom),
		srsid:    srsid,
		envelope: envelope,
	}, nil
}

// DecodeBinaryHeader reads the header at the start of data.
func DecodeBinaryHeader(data []byte) (*BinaryHeader, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(ErrInvalid, "not enough bytes to decode header")
	}

	var bh BinaryHeader
	bh.magic[0] = data[0]
	bh.magic[1] = data[1]
	if bh.magic != Magic {
		return nil, errors.Wrap(ErrInvalid, "invalid magic number")
	}
	bh.version = data[2]
	bh.flags = headerFlags(data[3])
	en := bh.flags.Endian()
	bh.srsid = int32(en.Uint32(data[4:8]))

	et := bh.flags.Envelope()
	if et == EnvelopeTypeInvalid {
		return nil, errors.Wrap(ErrInvalid, "invalid envelope type")
	}
	num := et.NumberOfElements()
	rest := data[8:]
	if len(rest) < num*8 {
		return nil, errors.Wrap(ErrInvalid, "not enough bytes to decode envelope")
	}
	bh.envelope = make([]float64, 0, num)
	for i := 0; i < num; i++ {
		bh.envelope = append(bh.envelope, math.Float64frombits(en.Uint64(rest[i*8:i*8+8])))
	}
	return &bh, nil
}

func (h *BinaryHeader) SRSId() int32 {
	if h == nil {
		return 0
	}
	return h.srsid
}

func (h *BinaryHeader) Envelope() []float64 {
	if h == nil {
		return nil
	}
	return h.envelope
}

func (h *BinaryHeader) IsGeometryEmpty() bool {
	if h == nil {
		return true
	}
	return h.flags.IsEmpty()
}

func (h *BinaryHeader) Size() int {
	if h == nil {
		return 0
	}
	return len(h.envelope)*8 + 8
}

func (h *BinaryHeader) Endian() binary.ByteOrder {
	if h == nil {
		return binary.LittleEndian
	}
	return h.flags.Endian()
}

func (h *BinaryHeader) encodeTo(data *bytes.Buffer) error {
	en := h.Endian()
	data.Write([]byte{h.magic[0], h.magic[1], h.version, byte(h.flags)})
	if err := binary.Write(data, en, h.srsid); err != nil {
		return err
	}
	return binary.Write(data, en, h.envelope)
}

// StandardBinary is a geometry column value: header plus WKB.
type StandardBinary struct {
	Header   *BinaryHeader
	SRSID    int32
	Geometry orb.Geometry
}

// NewBinary wraps geom for storage. A nil geometry is stored as empty.
func NewBinary(srs int32, geom orb.Geometry) (*StandardBinary, error) {
	empty := geom == nil || isEmptyGeometry(geom)
	extent := []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	if !empty {
		b := geom.Bound()
		extent = []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]}
	}
	h, err := newBinaryHeader(binary.LittleEndian, srs, extent, EnvelopeTypeXY, empty)
	if err != nil {
		return nil, err
	}
	return &StandardBinary{Header: h, SRSID: srs, Geometry: geom}, nil
}

// DecodeGeometry parses a stored geometry column value.
func DecodeGeometry(data []byte) (*StandardBinary, error) {
	h, err := DecodeBinaryHeader(data)
	if err != nil {
		return nil, err
	}
	sb := &StandardBinary{Header: h, SRSID: h.SRSId()}
	if h.IsGeometryEmpty() {
		return sb, nil
	}
	geo, err := wkb.Unmarshal(data[h.Size():])
	if err != nil {
		return nil, errors.Wrap(err, "decode wkb")
	}
	sb.Geometry = geo
	return sb, nil
}

func (sb StandardBinary) Encode() ([]byte, error) {
	var data bytes.Buffer
	if err := sb.Header.encodeTo(&data); err != nil {
		return nil, err
	}
	if sb.Header.IsGeometryEmpty() {
		return data.Bytes(), nil
	}
	raw, err := wkb.Marshal(sb.Geometry, sb.Header.Endian())
	if err != nil {
		return nil, errors.Wrap(err, "encode wkb")
	}
	data.Write(raw)
	return data.Bytes(), nil
}

// Extent returns the stored envelope, or the zero envelope for an empty
// geometry.
func (sb *StandardBinary) Extent() Envelope {
	if sb == nil || sb.Header.IsGeometryEmpty() {
		return Envelope{}
	}
	env := sb.Header.Envelope()
	if len(env) < 4 {
		return GeometryEnvelope(sb.Geometry)
	}
	return Envelope{MinX: env[0], MaxX: env[1], MinY: env[2], MaxY: env[3]}
}

func (sb *StandardBinary) Value() (driver.Value, error) {
	if sb == nil {
		return nil, nil
	}
	return sb.Encode()
}

func (sb *StandardBinary) Scan(value interface{}) error {
	if sb == nil {
		return errors.New("scan into nil geometry")
	}
	if value == nil {
		*sb = StandardBinary{}
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		return errors.Errorf("unsupported geometry column value %T", value)
	}
	decoded, err := DecodeGeometry(data)
	if err != nil {
		return err
	}
	*sb = *decoded
	return nil
}
