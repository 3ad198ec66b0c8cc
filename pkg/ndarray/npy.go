package ndarray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/c360/geopatch/errors"
)

// NPY v1.0: magic, version, little-endian header length, python dict
// header padded with spaces to a 64 byte boundary, then raw C-order data.
var npyMagic = []byte("\x93NUMPY")

// Descr returns the numpy dtype descriptor string (e.g. "<f8")
func Descr(dtype DType) string { return descrOf(dtype) }

// DTypeFromDescr resolves a numpy dtype descriptor string
func DTypeFromDescr(descr string) (DType, error) { return dtypeFromDescr(descr) }

func descrOf(dtype DType) string {
	switch dtype {
	case Bool:
		return "|b1"
	case Uint8:
		return "|u1"
	case Int16:
		return "<i2"
	case Int32:
		return "<i4"
	case Int64:
		return "<i8"
	case Float32:
		return "<f4"
	default:
		return "<f8"
	}
}

func dtypeFromDescr(descr string) (DType, error) {
	switch strings.TrimPrefix(descr, "=") {
	case "|b1":
		return Bool, nil
	case "|u1", "<u1":
		return Uint8, nil
	case "<i2":
		return Int16, nil
	case "<i4":
		return Int32, nil
	case "<i8":
		return Int64, nil
	case "<f4":
		return Float32, nil
	case "<f8":
		return Float64, nil
	default:
		return 0, errors.IO(errors.ErrUnsupportedVersion, "unsupported npy descr %q", descr)
	}
}

func shapeTuple(shape []int) string {
	if len(shape) == 0 {
		return "()"
	}
	if len(shape) == 1 {
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// WriteNPY serializes the array in NPY v1.0 format
func WriteNPY(w io.Writer, a *Array) error {
	header := fmt.Sprintf(
		"{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descrOf(a.dtype), shapeTuple(a.shape))
	// pad so that magic+version+length+header is a multiple of 64, newline terminated
	unpadded := len(npyMagic) + 2 + 2 + len(header) + 1
	padding := (64 - unpadded%64) % 64
	header += strings.Repeat(" ", padding) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return errors.IO(err, "write npy magic")
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return errors.IO(err, "write npy version")
	}
	var headerLen [2]byte
	binary.LittleEndian.PutUint16(headerLen[:], uint16(len(header)))
	if _, err := w.Write(headerLen[:]); err != nil {
		return errors.IO(err, "write npy header length")
	}
	if _, err := w.Write([]byte(header)); err != nil {
		return errors.IO(err, "write npy header")
	}
	if _, err := w.Write(EncodeBytes(a)); err != nil {
		return errors.IO(err, "write npy data")
	}
	return nil
}

// ReadNPY deserializes an NPY v1.0 array
func ReadNPY(r io.Reader) (*Array, error) {
	head := make([]byte, len(npyMagic)+2+2)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, errors.IO(err, "read npy preamble")
	}
	if !bytes.Equal(head[:len(npyMagic)], npyMagic) {
		return nil, errors.IO(errors.ErrCorruptedStore, "missing npy magic")
	}
	if head[len(npyMagic)] != 1 {
		return nil, errors.IO(errors.ErrUnsupportedVersion, "npy version %d", head[len(npyMagic)])
	}
	headerLen := binary.LittleEndian.Uint16(head[len(npyMagic)+2:])
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.IO(err, "read npy header")
	}

	descr, shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}
	dtype, err := dtypeFromDescr(descr)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, volume(shape)*dtype.ItemSize())
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.IO(err, "read npy data")
	}
	return DecodeBytes(dtype, shape, raw)
}

func headerField(header, key string) (string, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return "", errors.IO(errors.ErrCorruptedStore, "npy header missing %q", key)
	}
	rest := header[idx+len(key)+2:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return "", errors.IO(errors.ErrCorruptedStore, "malformed npy header")
	}
	rest = rest[colon+1:]
	var end int
	if paren := strings.Index(rest, ")"); strings.HasPrefix(strings.TrimSpace(rest), "(") {
		end = paren + 1
	} else if comma := strings.Index(rest, ","); comma >= 0 {
		end = comma
	} else {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), nil
}

func parseHeader(header string) (descr string, shape []int, err error) {
	descr, err = headerField(header, "descr")
	if err != nil {
		return "", nil, err
	}
	descr = strings.Trim(descr, "'\"")

	order, err := headerField(header, "fortran_order")
	if err != nil {
		return "", nil, err
	}
	if order != "False" {
		return "", nil, errors.IO(errors.ErrUnsupportedVersion, "fortran order arrays are not supported")
	}

	tuple, err := headerField(header, "shape")
	if err != nil {
		return "", nil, err
	}
	tuple = strings.Trim(tuple, "()")
	shape = []int{}
	for _, part := range strings.Split(tuple, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, convErr := strconv.Atoi(part)
		if convErr != nil {
			return "", nil, errors.IO(errors.ErrCorruptedStore, "bad shape entry %q", part)
		}
		shape = append(shape, dim)
	}
	return descr, shape, nil
}

// EncodeBytes flattens the array into little-endian C-order bytes
func EncodeBytes(a *Array) []byte {
	out := make([]byte, a.Len()*a.dtype.ItemSize())
	switch v := a.data.(type) {
	case []bool:
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
	case []uint8:
		copy(out, v)
	case []int16:
		for i, x := range v {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(x))
		}
	case []int32:
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(x))
		}
	case []int64:
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(x))
		}
	case []float32:
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
		}
	default:
		for i, x := range v.([]float64) {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(x))
		}
	}
	return out
}

// DecodeBytes reassembles an array from little-endian C-order bytes
func DecodeBytes(dtype DType, shape []int, raw []byte) (*Array, error) {
	n := volume(shape)
	if len(raw) != n*dtype.ItemSize() {
		return nil, errors.IO(
			errors.ErrCorruptedStore, "expected %d bytes for shape %v, got %d", n*dtype.ItemSize(), shape, len(raw))
	}
	data := alloc(dtype, n)
	switch v := data.(type) {
	case []bool:
		for i := range v {
			v[i] = raw[i] != 0
		}
	case []uint8:
		copy(v, raw)
	case []int16:
		for i := range v {
			v[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case []int32:
		for i := range v {
			v[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case []int64:
		for i := range v {
			v[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case []float32:
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	default:
		f := v.([]float64)
		for i := range f {
			f[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	}
	return New(shape, data)
}
