// Package listener implements the supervisor that binds one unix-domain
// socket per local identity and runs the accept-key-agreement-auth-session
// pipeline for every inbound connection, without letting a single
// connection's failure take the listener down.
package listener

import (
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/veilmesh/veil/internal/auth"
	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/kem"
	"github.com/veilmesh/veil/internal/record"
	"github.com/veilmesh/veil/internal/session"
	"github.com/veilmesh/veil/internal/table"
)

// Supervisor owns one unix-socket listener per configured identity.
type Supervisor struct {
	baseDir   string
	addresses []*identity.LocalAddress
	tbl       *table.Table
	bus       *events.Bus
	log       zerolog.Logger
}

// New builds a supervisor for the given identities.
func New(baseDir string, addresses []*identity.LocalAddress, tbl *table.Table, bus *events.Bus, log zerolog.Logger) *Supervisor {
	return &Supervisor{baseDir: baseDir, addresses: addresses, tbl: tbl, bus: bus, log: log}
}

// Run binds every identity's socket and serves until every listener has
// returned, then reports the first fatal error (an unlink, listen or
// accept failure); a listener that stops does not stop the others, and
// individual connection failures never reach this far. Listeners run
// concurrently via errgroup, mirroring the
// teacher's own use of errgroup for fanning out independent workers.
func (s *Supervisor) Run() error {
	var g errgroup.Group
	for _, addr := range s.addresses {
		addr := addr
		g.Go(func() error {
			return s.serveOne(addr)
		})
	}
	return g.Wait()
}

func (s *Supervisor) serveOne(addr *identity.LocalAddress) error {
	sockPath := addr.SocketPath(s.baseDir)
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink stale socket %s: %w", sockPath, err)
	}

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sockPath, err)
	}
	defer ln.Close()

	log := s.log.With().Str("component", "listener").Str("identity", addr.Name).Logger()
	log.Info().Str("socket", sockPath).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept on %s: %w", sockPath, err)
		}
		go s.handleConn(conn, addr, log)
	}
}

func (s *Supervisor) handleConn(conn net.Conn, addr *identity.LocalAddress, log zerolog.Logger) {
	defer conn.Close()

	key, err := kem.Handshake(conn, false)
	if err != nil {
		log.Debug().Err(err).Msg("handshake failed")
		return
	}

	stream, err := record.New(conn, key)
	if err != nil {
		log.Debug().Err(err).Msg("record layer setup failed")
		return
	}

	peer, err := auth.Acceptor(stream)
	if err != nil {
		log.Debug().Err(err).Msg("peer authentication failed")
		return
	}

	if err := session.Run(stream, addr.PublicKey, peer, s.tbl, s.bus, s.log); err != nil {
		log.Debug().Err(err).Msg("session ended")
	}
}
