// Package server implements ONC RPC version 2 servers over TCP and UDP.
//
// A server exports exactly one (program, version) pair described by a
// Program: an explicit table from procedure number to handler. Incoming
// calls are validated and routed by a Dispatcher, which is shared by the
// stream and datagram front ends.
//
// Example:
//
//	prog := &server.Program{
//	    Name:    "echo",
//	    Number:  0x20000000,
//	    Version: 1,
//	    Procedures: map[uint32]server.Procedure{
//	        1: {Name: "DOUBLE", Handler: double},
//	    },
//	}
//	srv, err := server.NewTCPServer(server.Config{Port: 0}, prog)
//	if err != nil {
//	    return err
//	}
//	go srv.Serve(ctx)
package server

import (
	"errors"
	"fmt"
)

// ErrNoReply may be returned by a handler to send nothing back. The caller
// then sees a timeout (UDP) or waits for its own deadline (TCP).
var ErrNoReply = errors.New("rpc server: no reply")

// Handler runs one procedure. It decodes its arguments from c.Args, calls
// c.TurnAround, then packs its results into c.Reply.
//
// Decode errors (rpc.ErrShortRead, rpc.ErrGarbageArgs) turn into a
// GARBAGE_ARGS reply; any other error into SYSTEM_ERR.
type Handler func(c *Call) error

// Procedure is one entry of a program's procedure table.
type Procedure struct {
	Name    string
	Handler Handler
}

// Program describes the (program, version) a server exports.
//
// Procedure 0 is the NULL procedure; it is provided automatically unless the
// table defines it.
type Program struct {
	Name       string
	Number     uint32
	Version    uint32
	Procedures map[uint32]Procedure
}

var nullProcedure = Procedure{
	Name: "NULL",
	Handler: func(c *Call) error {
		return c.TurnAround()
	},
}

// procedure looks up proc in the table.
func (p *Program) procedure(proc uint32) (Procedure, bool) {
	if pr, ok := p.Procedures[proc]; ok {
		return pr, true
	}
	if proc == 0 {
		return nullProcedure, true
	}
	return Procedure{}, false
}

// procedureName returns a label for proc, used in logs and metrics.
func (p *Program) procedureName(proc uint32) string {
	if pr, ok := p.procedure(proc); ok && pr.Name != "" {
		return pr.Name
	}
	return fmt.Sprintf("PROC_%d", proc)
}

func (p *Program) validate() error {
	if p == nil {
		return errors.New("program is nil")
	}
	if p.Name == "" {
		return errors.New("program name is required")
	}
	for num, pr := range p.Procedures {
		if pr.Handler == nil {
			return fmt.Errorf("procedure %d (%s) of program %s has no handler", num, pr.Name, p.Name)
		}
	}
	return nil
}
