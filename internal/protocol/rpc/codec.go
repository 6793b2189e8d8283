package rpc

import (
	"bytes"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Packer builds an XDR byte stream from a sequence of typed primitives.
//
// Writes go to an in-memory buffer and cannot fail, so the Pack methods do
// not return errors. Alignment and padding are handled by go-xdr.
//
// A Packer is not safe for concurrent use.
type Packer struct {
	buf bytes.Buffer
	enc *xdr.Encoder
}

// NewPacker returns an empty Packer.
func NewPacker() *Packer {
	p := &Packer{}
	p.enc = xdr.NewEncoder(&p.buf)
	return p
}

// Reset discards everything written so far.
func (p *Packer) Reset() {
	p.buf.Reset()
}

// Bytes returns the encoded stream. The slice aliases the internal buffer
// and is only valid until the next write or Reset.
func (p *Packer) Bytes() []byte {
	return p.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (p *Packer) Len() int {
	return p.buf.Len()
}

func (p *Packer) PackUint32(v uint32) {
	_, _ = p.enc.EncodeUint(v)
}

func (p *Packer) PackInt32(v int32) {
	_, _ = p.enc.EncodeInt(v)
}

// PackEnum writes an XDR enum. Enums share the unsigned int encoding.
func (p *Packer) PackEnum(v uint32) {
	_, _ = p.enc.EncodeUint(v)
}

func (p *Packer) PackBool(v bool) {
	_, _ = p.enc.EncodeBool(v)
}

// PackOpaque writes variable-length opaque data (length prefix + padding).
func (p *Packer) PackOpaque(b []byte) {
	_, _ = p.enc.EncodeOpaque(b)
}

// PackFixedOpaque writes fixed-length opaque data (padding only).
func (p *Packer) PackFixedOpaque(b []byte) {
	_, _ = p.enc.EncodeFixedOpaque(b)
}

func (p *Packer) PackString(s string) {
	_, _ = p.enc.EncodeString(s)
}

// PackRaw appends bytes that are already XDR encoded, such as relayed
// arguments or results.
func (p *Packer) PackRaw(b []byte) {
	p.buf.Write(b)
}

// PackList writes n items as an XDR optional-data linked list: every item is
// preceded by TRUE and the list is terminated by FALSE.
func (p *Packer) PackList(n int, item func(i int)) {
	for i := 0; i < n; i++ {
		p.PackBool(true)
		item(i)
	}
	p.PackBool(false)
}

// PackArray writes n items as an XDR counted array.
func (p *Packer) PackArray(n int, item func(i int)) {
	p.PackUint32(uint32(n))
	for i := 0; i < n; i++ {
		item(i)
	}
}

// PackAuth writes a credential or verifier.
func (p *Packer) PackAuth(a OpaqueAuth) {
	p.PackEnum(a.Flavor)
	p.PackOpaque(a.Body)
}

// Marshal appends v using go-xdr reflection.
func (p *Packer) Marshal(v any) error {
	if _, err := xdr.Marshal(&p.buf, v); err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return nil
}

// Unpacker reads typed primitives back out of an XDR byte stream.
//
// Every read past the end of the buffer fails with an error matching
// ErrShortRead. Finish reports ErrGarbageArgs if bytes are left over.
type Unpacker struct {
	data []byte
	r    *bytes.Reader
	dec  *xdr.Decoder
}

// NewUnpacker returns an Unpacker positioned at the start of data.
func NewUnpacker(data []byte) *Unpacker {
	u := &Unpacker{}
	u.Reset(data)
	return u
}

// Reset repositions the Unpacker at the start of data.
func (u *Unpacker) Reset(data []byte) {
	u.data = data
	u.r = bytes.NewReader(data)
	u.dec = xdr.NewDecoder(u.r)
}

// Len returns the number of unread bytes.
func (u *Unpacker) Len() int {
	return u.r.Len()
}

// Pos returns the offset of the next unread byte.
func (u *Unpacker) Pos() int {
	return len(u.data) - u.r.Len()
}

func shortRead(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrShortRead, what, err)
}

func (u *Unpacker) UnpackUint32() (uint32, error) {
	v, _, err := u.dec.DecodeUint()
	if err != nil {
		return 0, shortRead("uint32", err)
	}
	return v, nil
}

func (u *Unpacker) UnpackInt32() (int32, error) {
	v, _, err := u.dec.DecodeInt()
	if err != nil {
		return 0, shortRead("int32", err)
	}
	return v, nil
}

func (u *Unpacker) UnpackEnum() (uint32, error) {
	v, _, err := u.dec.DecodeUint()
	if err != nil {
		return 0, shortRead("enum", err)
	}
	return v, nil
}

func (u *Unpacker) UnpackBool() (bool, error) {
	v, _, err := u.dec.DecodeBool()
	if err != nil {
		return false, shortRead("bool", err)
	}
	return v, nil
}

// UnpackOpaque reads variable-length opaque data.
//
// The declared length is checked against the unread bytes before anything
// is allocated, so a corrupt length cannot trigger a huge allocation.
func (u *Unpacker) UnpackOpaque() ([]byte, error) {
	n, err := u.UnpackUint32()
	if err != nil {
		return nil, err
	}
	return u.unpackFixed(n)
}

// UnpackFixedOpaque reads n bytes of fixed-length opaque data.
func (u *Unpacker) UnpackFixedOpaque(n uint32) ([]byte, error) {
	return u.unpackFixed(n)
}

func (u *Unpacker) unpackFixed(n uint32) ([]byte, error) {
	if uint64(n) > uint64(u.r.Len()) {
		return nil, fmt.Errorf("%w: opaque length %d exceeds %d remaining bytes", ErrShortRead, n, u.r.Len())
	}
	if n == 0 {
		return []byte{}, nil
	}
	b, _, err := u.dec.DecodeFixedOpaque(int32(n))
	if err != nil {
		return nil, shortRead("opaque", err)
	}
	return b, nil
}

func (u *Unpacker) UnpackString() (string, error) {
	b, err := u.UnpackOpaque()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnpackList reads an XDR optional-data linked list, calling item once per
// element.
func (u *Unpacker) UnpackList(item func() error) error {
	for {
		more, err := u.UnpackBool()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if err := item(); err != nil {
			return err
		}
	}
}

// UnpackArray reads an XDR counted array, calling item once per element.
func (u *Unpacker) UnpackArray(item func(i int) error) error {
	n, err := u.UnpackUint32()
	if err != nil {
		return err
	}
	// Every XDR item takes at least 4 bytes
	if uint64(n)*4 > uint64(u.r.Len()) {
		return fmt.Errorf("%w: array of %d items exceeds %d remaining bytes", ErrShortRead, n, u.r.Len())
	}
	for i := 0; i < int(n); i++ {
		if err := item(i); err != nil {
			return err
		}
	}
	return nil
}

// UnpackAuth reads a credential or verifier.
func (u *Unpacker) UnpackAuth() (OpaqueAuth, error) {
	flavor, err := u.UnpackEnum()
	if err != nil {
		return OpaqueAuth{}, err
	}
	n, err := u.UnpackUint32()
	if err != nil {
		return OpaqueAuth{}, err
	}
	if n > MaxAuthBodySize {
		return OpaqueAuth{}, fmt.Errorf("%w: auth body of %d bytes exceeds %d", ErrBadAuth, n, MaxAuthBodySize)
	}
	body, err := u.unpackFixed(n)
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

// Remaining consumes and returns every unread byte.
func (u *Unpacker) Remaining() []byte {
	rest := u.data[u.Pos():]
	_, _ = u.r.Seek(0, io.SeekEnd)
	return rest
}

// Unmarshal decodes v using go-xdr reflection.
func (u *Unpacker) Unmarshal(v any) error {
	if _, err := xdr.Unmarshal(u.r, v); err != nil {
		return shortRead(fmt.Sprintf("%T", v), err)
	}
	return nil
}

// Finish fails with ErrGarbageArgs if unread bytes remain.
func (u *Unpacker) Finish() error {
	if n := u.r.Len(); n > 0 {
		return fmt.Errorf("%w: %d bytes left", ErrGarbageArgs, n)
	}
	return nil
}
