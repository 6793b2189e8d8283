// Package echo is a small demonstration program used by rpcecho and rpcinfo.
//
// It exports program 0x20000000 version 1 with a single procedure, DOUBLE,
// which returns its string argument concatenated with itself.
package echo

import (
	"context"

	"github.com/marmos91/oncrpc/internal/protocol/rpc"
	"github.com/marmos91/oncrpc/pkg/client"
	"github.com/marmos91/oncrpc/pkg/server"
)

const (
	Program    = 0x20000000
	Version    = 1
	ProcDouble = 1
)

// NewProgram returns the echo program table.
func NewProgram() *server.Program {
	return &server.Program{
		Name:    "echo",
		Number:  Program,
		Version: Version,
		Procedures: map[uint32]server.Procedure{
			ProcDouble: {Name: "DOUBLE", Handler: double},
		},
	}
}

func double(c *server.Call) error {
	s, err := c.Args.UnpackString()
	if err != nil {
		return err
	}
	if err := c.TurnAround(); err != nil {
		return err
	}
	c.Reply.PackString(s + s)
	return nil
}

// Double calls DOUBLE through c.
func Double(ctx context.Context, c *client.Client, s string) (string, error) {
	var out string
	err := c.Call(ctx, ProcDouble,
		func(p *rpc.Packer) { p.PackString(s) },
		func(u *rpc.Unpacker) (err error) {
			out, err = u.UnpackString()
			return err
		})
	return out, err
}
