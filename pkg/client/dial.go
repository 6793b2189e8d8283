package client

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/oncrpc/internal/logger"
)

// NewRawTCPClient connects to program/version at host:port over TCP without
// consulting the port mapper.
func NewRawTCPClient(ctx context.Context, host string, port int, program, version uint32, opts ...Option) (*Client, error) {
	return newRawTCPClient(ctx, host, port, program, version, newOptions(opts))
}

// NewRawUDPClient is the UDP counterpart of NewRawTCPClient.
func NewRawUDPClient(ctx context.Context, host string, port int, program, version uint32, opts ...Option) (*Client, error) {
	return newRawUDPClient(ctx, host, port, program, version, newOptions(opts))
}

func newRawTCPClient(ctx context.Context, host string, port int, program, version uint32, o *options) (*Client, error) {
	conn, err := o.dial(ctx, "tcp", host, port)
	if err != nil {
		return nil, err
	}
	return o.newClient(NewTCPTransport(conn, o.maxRecord), host, port, program, version), nil
}

func newRawUDPClient(ctx context.Context, host string, port int, program, version uint32, o *options) (*Client, error) {
	conn, err := o.dial(ctx, "udp", host, port)
	if err != nil {
		return nil, err
	}
	return o.newClient(NewUDPTransport(conn, o.udp), host, port, program, version), nil
}

func (o *options) newClient(t Transport, host string, port int, program, version uint32) *Client {
	c := New(t, host, port, program, version)
	if o.cred != nil {
		c.cred = *o.cred
	}
	if o.verf != nil {
		c.verf = *o.verf
	}
	return c
}

func (o *options) dial(ctx context.Context, network, host string, port int) (net.Conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	if o.reserved == nil {
		conn, err := o.dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
		}
		return conn, nil
	}

	var conn net.Conn
	local, err := o.reserved.Bind(func(p int) error {
		d := &net.Dialer{LocalAddr: localAddr(network, p)}
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	logger.Debug("RPC client: %s %s bound to reserved port %d", network, address, local)
	return conn, nil
}

func localAddr(network string, port int) net.Addr {
	if network == "udp" {
		return &net.UDPAddr{Port: port}
	}
	return &net.TCPAddr{Port: port}
}
