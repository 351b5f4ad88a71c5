package relaycache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// One read, one buffer: the proxy handles single-shot requests without
// keep-alive, so anything past the first read is ignored.
const maxRequestBytes = 4096

// Server accepts client connections and feeds them through the relay.
// Handling is fully serial: a connection's request is read, handled and
// answered before the next connection is accepted, so a slow backend
// stalls all clients. That head-of-line blocking is a property of the
// design, not an accident.
type Server struct {
	relay *Relay
	addr  string
	log   zerolog.Logger
}

func NewServer(relay *Relay, addr string) *Server {
	return &Server{
		relay: relay,
		addr:  addr,
		log:   relay.log,
	}
}

// ListenAndServe binds the configured address and serves until ctx is
// canceled. A bind failure is returned to the caller; per-connection
// failures are logged and the loop continues.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener. The listener is
// closed when ctx is canceled, which ends the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Proxy listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.log.Info().Msg("Listener closed, shutting down")
				return nil
			}
			s.log.Error().Err(err).Msg("Could not accept connection")
			continue
		}
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.log.Debug().Err(err).Msg("Could not read request")
		return
	}

	raw := bytes.TrimSpace(buf[:n])
	if len(raw) == 0 {
		s.log.Debug().Msg("Empty request")
		return
	}

	if _, err := conn.Write(s.relay.Handle(ctx, raw)); err != nil {
		s.log.Error().Err(err).Msg("Could not write response to client")
	}
}
