// Package xdr provides XDR encoding and decoding for port mapper protocol
// messages.
//
// The port mapper (program 100000, version 2) maps (program, version,
// protocol) triples to the port a server listens on. Its messages are small
// fixed structures plus two variable ones: the DUMP response, an XDR
// optional-data linked list of mappings, and the CALLIT arguments and
// results, which wrap opaque procedure data.
//
// References:
//   - RFC 1057 Appendix A (Port Mapper Program Protocol)
//   - RFC 1014 (XDR: External Data Representation Standard)
package xdr

import (
	"cmp"
	"strconv"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// Port mapper program identity and well-known port.
const (
	Program = 100000
	Version = 2
	Port    = 111
)

// Port mapper procedures.
const (
	ProcNull    = 0
	ProcSet     = 1
	ProcUnset   = 2
	ProcGetPort = 3
	ProcDump    = 4
	ProcCallIt  = 5
)

// Protocol numbers stored in a mapping.
const (
	ProtoTCP = rpc.IPProtoTCP
	ProtoUDP = rpc.IPProtoUDP
)

// Mapping represents a port mapper mapping entry.
//
// Wire format:
//
//	prog: uint32 - RPC program number
//	vers: uint32 - RPC program version
//	prot: uint32 - Protocol (6=TCP, 17=UDP)
//	port: uint32 - Port number
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

// Compare orders mappings by (prog, vers, prot), the order DUMP lists them
// in. It returns -1, 0 or +1.
func (m Mapping) Compare(o Mapping) int {
	if c := cmp.Compare(m.Prog, o.Prog); c != 0 {
		return c
	}
	if c := cmp.Compare(m.Vers, o.Vers); c != 0 {
		return c
	}
	return cmp.Compare(m.Prot, o.Prot)
}

// CallArgs are the arguments of CALLIT: the target procedure and its
// already encoded arguments.
type CallArgs struct {
	Prog uint32
	Vers uint32
	Proc uint32
	Args []byte
}

// CallResult is the CALLIT result: the port of the program that ran the call
// and its encoded results.
type CallResult struct {
	Port   uint32
	Result []byte
}

// ProtocolName returns "tcp", "udp" or the protocol number as text.
func ProtocolName(prot uint32) string {
	switch prot {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	}
	return strconv.FormatUint(uint64(prot), 10)
}

// EncodeMapping packs a single mapping.
func EncodeMapping(p *rpc.Packer, m *Mapping) {
	p.PackUint32(m.Prog)
	p.PackUint32(m.Vers)
	p.PackUint32(m.Prot)
	p.PackUint32(m.Port)
}

// DecodeMapping unpacks a single mapping.
func DecodeMapping(u *rpc.Unpacker) (*Mapping, error) {
	var m Mapping
	var err error
	if m.Prog, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if m.Vers, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if m.Prot, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if m.Port, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeDumpResponse packs mappings as an XDR optional-data linked list.
//
//	For each mapping:
//	  value_follows: uint32(1)
//	  mapping:       [prog][vers][prot][port]
//	After the last mapping:
//	  value_follows: uint32(0)
func EncodeDumpResponse(p *rpc.Packer, mappings []*Mapping) {
	p.PackList(len(mappings), func(i int) {
		EncodeMapping(p, mappings[i])
	})
}

// DecodeDumpResponse unpacks a DUMP result.
func DecodeDumpResponse(u *rpc.Unpacker) ([]*Mapping, error) {
	mappings := []*Mapping{}
	err := u.UnpackList(func() error {
		m, err := DecodeMapping(u)
		if err != nil {
			return err
		}
		mappings = append(mappings, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// EncodeCallArgs packs CALLIT arguments.
func EncodeCallArgs(p *rpc.Packer, a *CallArgs) {
	p.PackUint32(a.Prog)
	p.PackUint32(a.Vers)
	p.PackUint32(a.Proc)
	p.PackOpaque(a.Args)
}

// DecodeCallArgs unpacks CALLIT arguments.
func DecodeCallArgs(u *rpc.Unpacker) (*CallArgs, error) {
	var a CallArgs
	var err error
	if a.Prog, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if a.Vers, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if a.Proc, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if a.Args, err = u.UnpackOpaque(); err != nil {
		return nil, err
	}
	return &a, nil
}

// EncodeCallResult packs a CALLIT result.
func EncodeCallResult(p *rpc.Packer, r *CallResult) {
	p.PackUint32(r.Port)
	p.PackOpaque(r.Result)
}

// DecodeCallResult unpacks a CALLIT result.
func DecodeCallResult(u *rpc.Unpacker) (*CallResult, error) {
	var r CallResult
	var err error
	if r.Port, err = u.UnpackUint32(); err != nil {
		return nil, err
	}
	if r.Result, err = u.UnpackOpaque(); err != nil {
		return nil, err
	}
	return &r, nil
}
