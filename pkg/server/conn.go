package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/internal/protocol/rpc"
)

// session serves the calls arriving on one TCP connection, one record at a
// time, until the peer goes away or the server shuts down.
type session struct {
	id     string
	server *TCPServer
	conn   net.Conn
	reader *bufio.Reader
}

func newSession(id string, server *TCPServer, conn net.Conn) *session {
	return &session{
		id:     id,
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// serve loops RecvRecord, Handle, SendRecord. It recovers from panics so a
// single misbehaving connection cannot crash the server, and always closes
// the connection on return.
func (s *session) serve(ctx context.Context) {
	clientAddr := s.conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", clientAddr, r)
		}
		_ = s.conn.Close()
	}()

	logger.Debug("Session %s started for %s", s.id, clientAddr)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		err := s.handleRecord(ctx)
		if err == nil {
			continue
		}

		var netErr net.Error
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("Connection from %s closed by client", clientAddr)
		case errors.As(err, &netErr) && netErr.Timeout():
			logger.Debug("Connection from %s timed out: %v", clientAddr, err)
		case errors.Is(err, rpc.ErrRecordTooLarge):
			logger.Warn("Closing connection from %s: %v", clientAddr, err)
		default:
			logger.Debug("Error handling request from %s: %v", clientAddr, err)
		}
		return
	}
}

// handleRecord reads one record, dispatches it and writes the reply, if any.
//
// The idle timeout covers the wait for the first byte of a record; the read
// timeout covers the rest of it.
func (s *session) handleRecord(ctx context.Context) error {
	cfg := &s.server.config

	var idleDeadline time.Time
	if cfg.IdleTimeout > 0 {
		idleDeadline = time.Now().Add(cfg.IdleTimeout)
	}
	if err := s.conn.SetReadDeadline(idleDeadline); err != nil {
		return err
	}
	if _, err := s.reader.Peek(1); err != nil {
		return err
	}

	if cfg.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
			return err
		}
	}
	record, err := rpc.RecvRecord(s.reader, cfg.MaxRecordSize)
	if err != nil {
		return err
	}
	s.server.metrics.RecordBytesTransferred("in", int64(len(record)))

	reply, ok := s.server.dispatcher.Handle(ctx, record, s.conn.RemoteAddr())
	if !ok {
		return nil
	}

	if cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if err := rpc.SendRecord(s.conn, reply, 0); err != nil {
		return err
	}
	s.server.metrics.RecordBytesTransferred("out", int64(len(reply)))
	return nil
}
