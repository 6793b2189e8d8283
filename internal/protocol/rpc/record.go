package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxFragmentSize is the largest fragment SendRecord emits when no
	// explicit limit is given.
	DefaultMaxFragmentSize = 1 << 20

	// DefaultMaxRecordSize bounds the size of a reassembled record so that a
	// peer cannot make the receiver allocate unbounded memory.
	DefaultMaxRecordSize = 4 << 20

	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF
)

// FragmentHeader is the 4-byte record marking header that precedes every
// fragment on a stream transport.
//
// Wire Format:
//   - Bit 31:    last fragment of the record
//   - Bits 0-30: fragment length in bytes
//
// Reference: RFC 1057 Section 10
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// Encode returns the 4-byte wire form of the header.
func (h FragmentHeader) Encode() [4]byte {
	v := h.Length & fragmentLenMask
	if h.IsLast {
		v |= lastFragmentBit
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// ReadFragmentHeader reads one fragment header from r.
//
// io.EOF is returned untouched when the stream ends before the first byte,
// which is how a peer closing between records looks. A header cut short
// yields ErrUnexpectedEOF.
func ReadFragmentHeader(r io.Reader) (*FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: fragment header", ErrUnexpectedEOF)
		}
		return nil, err
	}

	v := binary.BigEndian.Uint32(buf[:])
	return &FragmentHeader{
		IsLast: v&lastFragmentBit != 0,
		Length: v & fragmentLenMask,
	}, nil
}

// SendRecord writes payload as one record, split into fragments of at most
// maxFragment bytes. Only the final fragment carries the last bit; an empty
// payload is sent as a single empty last fragment. A non-positive
// maxFragment selects DefaultMaxFragmentSize.
func SendRecord(w io.Writer, payload []byte, maxFragment int) error {
	if maxFragment <= 0 || maxFragment > fragmentLenMask {
		maxFragment = DefaultMaxFragmentSize
	}

	for {
		n := len(payload)
		if n > maxFragment {
			n = maxFragment
		}
		last := n == len(payload)

		// Header and payload go out in a single write so that small
		// records do not cost two segments.
		frame := make([]byte, 4+n)
		hdr := FragmentHeader{IsLast: last, Length: uint32(n)}.Encode()
		copy(frame, hdr[:])
		copy(frame[4:], payload[:n])

		if _, err := w.Write(frame); err != nil {
			return fmt.Errorf("write fragment: %w", err)
		}

		payload = payload[n:]
		if last {
			return nil
		}
	}
}

// RecvRecord reads fragments from r until the last one and returns the
// reassembled record.
//
// A clean EOF before the first byte of a record is returned as io.EOF. EOF
// anywhere inside the record matches ErrUnexpectedEOF. A record larger than
// maxRecord (DefaultMaxRecordSize when non-positive) fails with
// ErrRecordTooLarge before its payload is read.
func RecvRecord(r io.Reader, maxRecord int) ([]byte, error) {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecordSize
	}

	var record []byte
	first := true

	for {
		header, err := ReadFragmentHeader(r)
		if err != nil {
			if errors.Is(err, io.EOF) && !first {
				return nil, fmt.Errorf("%w: stream closed between fragments", ErrUnexpectedEOF)
			}
			return nil, err
		}
		first = false

		if uint64(len(record))+uint64(header.Length) > uint64(maxRecord) {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d",
				ErrRecordTooLarge, uint64(len(record))+uint64(header.Length), maxRecord)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: fragment payload", ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			if record == nil {
				record = []byte{}
			}
			return record, nil
		}
	}
}
