package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/brainlesscar/rerelay/common"
	"github.com/cespare/xxhash/v2"
)

// Stored stream layout
//
//	file header (12 bytes):
//	  "RRF2" | version 0,1,0,0 | compression | serializer | 0 | 0
//	record header (24 bytes):
//	  "RR00" | compression tag | 0 0 0 | uncompressed len u32 LE |
//	  stored len u32 LE | xxhash64(stored) u64 LE
//	record body: stored bytes
const (
	fileHeaderSize   = 12
	recordHeaderSize = 24

	// MaxRecordSize bounds a single record; larger lengths are treated as corruption
	MaxRecordSize = 64 << 20
)

// SerializerMsgpack marks streams whose record bodies are msgpack common.Msg values
const SerializerMsgpack uint8 = 1

var (
	fileMagic     = [4]byte{'R', 'R', 'F', '2'}
	streamVersion = [4]byte{0, 1, 0, 0}
)

var (
	// ErrNotRecordStream is returned when the source does not start with a stream header
	ErrNotRecordStream = errors.New("not a record stream")
	// ErrUnsupportedSerializer is returned for streams written with an unknown serializer
	ErrUnsupportedSerializer = errors.New("unsupported record serializer")
	// ErrChecksum marks a record whose stored bytes do not match their checksum
	ErrChecksum = errors.New("record checksum mismatch")
	// ErrRecordTooLarge marks a record header announcing more than MaxRecordSize bytes
	ErrRecordTooLarge = errors.New("record exceeds maximum size")
	// ErrLengthOverrun marks a record whose length runs past a later record marker
	ErrLengthOverrun = errors.New("record length overruns stream")
)

// DecodeError reports one malformed record. The stream stays usable:
// the next call to Next resumes at the following record.
type DecodeError struct {
	Offset int64 // Byte offset of the malformed record in the source
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed record at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err describes a single skippable record
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// StreamHeader holds the options recorded in a stream's file header
type StreamHeader struct {
	Version     [4]byte
	Compression Compression
	Serializer  uint8
}

// Decoder reads record bodies from a stored stream.
// The whole source is held in memory so a record whose length field is
// corrupt can be skipped without losing the record after it.
type Decoder struct {
	data   []byte
	pos    int
	header StreamHeader
	err    error // Sticky terminal error (io.EOF included)
}

// NewDecoder reads the source and validates the stream header
func NewDecoder(r io.Reader) (*Decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read record stream: %w", err)
	}
	if len(data) < fileHeaderSize || !bytes.Equal(data[:4], fileMagic[:]) {
		return nil, ErrNotRecordStream
	}

	header := StreamHeader{
		Compression: Compression(data[8]),
		Serializer:  data[9],
	}
	copy(header.Version[:], data[4:8])
	if header.Serializer != SerializerMsgpack {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSerializer, header.Serializer)
	}

	return &Decoder{data: data, pos: fileHeaderSize, header: header}, nil
}

// Header returns the options read from the stream header
func (d *Decoder) Header() StreamHeader {
	return d.header
}

// Next returns the next record body.
// A *DecodeError means one record was skipped and decoding can continue.
// io.EOF marks a clean end of stream; any other error is terminal.
func (d *Decoder) Next() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}

	start := d.pos
	rest := d.data[start:]
	if len(rest) == 0 {
		d.err = io.EOF
		return nil, d.err
	}

	if !HasMagic(rest) {
		skipped := d.resync(start)
		return nil, &DecodeError{Offset: int64(start), Err: fmt.Errorf("%w: skipped %d bytes", ErrBadMagic, skipped)}
	}
	if len(rest) < recordHeaderSize {
		d.err = fmt.Errorf("truncated record header at offset %d: %w", start, io.ErrUnexpectedEOF)
		return nil, d.err
	}

	hdr := rest[:recordHeaderSize]
	tag := Compression(hdr[4])
	uncompressedLen := binary.LittleEndian.Uint32(hdr[8:12])
	storedLen := binary.LittleEndian.Uint32(hdr[12:16])
	checksum := binary.LittleEndian.Uint64(hdr[16:24])

	if storedLen > MaxRecordSize || uncompressedLen > MaxRecordSize {
		d.resync(start + MagicSize)
		return nil, &DecodeError{Offset: int64(start), Err: fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, storedLen)}
	}

	end := start + recordHeaderSize + int(storedLen)
	if end > len(d.data) {
		// Either the stream was cut inside this record or the length is
		// corrupt. Only a later marker tells the two apart.
		if d.nextMagic(start+MagicSize) < 0 {
			d.pos = len(d.data)
			d.err = fmt.Errorf("truncated record at offset %d: %w", start, io.ErrUnexpectedEOF)
			return nil, d.err
		}
		d.resync(start + MagicSize)
		return nil, &DecodeError{Offset: int64(start), Err: fmt.Errorf("%w: %d bytes", ErrLengthOverrun, storedLen)}
	}

	stored := d.data[start+recordHeaderSize : end]
	if xxhash.Sum64(stored) != checksum {
		// The length may be what is wrong, so don't trust it to find the next record
		d.resync(start + MagicSize)
		return nil, &DecodeError{Offset: int64(start), Err: ErrChecksum}
	}
	d.pos = end

	body, err := decompressBody(stored, tag, int(uncompressedLen))
	if err != nil {
		return nil, &DecodeError{Offset: int64(start), Err: err}
	}
	if tag == CompressionNone {
		// Callers own the body; don't hand out a view of the source
		body = bytes.Clone(body)
	}

	return body, nil
}

// All returns the remaining records as a single-use sequence.
// Iteration stops after io.EOF or after yielding a terminal error.
func (d *Decoder) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			body, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(body, err) {
				return
			}
			if err != nil && !IsDecodeError(err) {
				return
			}
		}
	}
}

// nextMagic returns the offset of the first record marker at or after from, or -1
func (d *Decoder) nextMagic(from int) int {
	if from >= len(d.data) {
		return -1
	}
	i := bytes.Index(d.data[from:], Magic[:])
	if i < 0 {
		return -1
	}
	return from + i
}

// resync moves to the next record marker at or after from, or to the end
// of input. Returns the number of bytes skipped since the current position.
func (d *Decoder) resync(from int) int64 {
	next := d.nextMagic(from)
	if next < 0 {
		next = len(d.data)
	}
	skipped := int64(next - d.pos)
	d.pos = next
	return skipped
}

// EncoderOptions configures a stream Encoder
type EncoderOptions struct {
	Compression Compression
}

// Encoder writes records in the stored stream format
type Encoder struct {
	w    io.Writer
	opts EncoderOptions
}

// NewEncoder writes the stream header to w
func NewEncoder(w io.Writer, opts EncoderOptions) (*Encoder, error) {
	var hdr [fileHeaderSize]byte
	copy(hdr[:4], fileMagic[:])
	copy(hdr[4:8], streamVersion[:])
	hdr[8] = byte(opts.Compression)
	hdr[9] = SerializerMsgpack

	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to write stream header: %w", err)
	}
	return &Encoder{w: w, opts: opts}, nil
}

// Write appends one record body to the stream
func (e *Encoder) Write(body []byte) error {
	if len(body) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(body))
	}

	stored, tag, err := compressBody(body, e.opts.Compression)
	if err != nil {
		return err
	}

	var hdr [recordHeaderSize]byte
	copy(hdr[:MagicSize], Magic[:])
	hdr[4] = byte(tag)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(stored)))
	binary.LittleEndian.PutUint64(hdr[16:24], xxhash.Sum64(stored))

	if _, err := e.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if _, err := e.w.Write(stored); err != nil {
		return fmt.Errorf("failed to write record body: %w", err)
	}
	return nil
}

// WriteMsg serializes msg with msgpack and appends it as one record
func (e *Encoder) WriteMsg(msg common.Msg) error {
	body, err := MarshalMsg(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return e.Write(body)
}
