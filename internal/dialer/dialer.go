// Package dialer implements the outbound connection dispatcher: it
// resolves the local identity's expanded secret key from the set of
// locally loaded identities it was built with, opens a SOCKS5-tunneled stream to the peer's onion
// address on the fixed target port, and runs the same
// handshake/auth/session pipeline the listener runs, but as initiator.
package dialer

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/veilmesh/veil/internal/auth"
	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/kem"
	"github.com/veilmesh/veil/internal/record"
	"github.com/veilmesh/veil/internal/session"
	"github.com/veilmesh/veil/internal/table"
	"github.com/veilmesh/veil/internal/verr"
)

// TargetPort is the fixed TCP port every outbound dial targets on the
// remote onion address; listeners expect the anonymizing transport to map
// that port to their unix socket.
const TargetPort = 21761

// Request is one item of the dial request channel: dial peer as host,
// delivering the outcome on Reply once the session has started (or failed
// to). Dropping Reply without reading cancels interest in the outcome;
// the dispatcher does not block on an unread reply.
type Request struct {
	Peer  identity.PublicKey
	Host  identity.PublicKey
	Reply chan<- error
}

// Dialer reads dial requests off one channel, matching the single
// dial-request-channel contract named in the external interfaces section;
// each request is handled in its own goroutine, so dials run concurrently,
// and each successful dial spawns its own session goroutine.
type Dialer struct {
	socksSocketPath string
	addresses       map[[32]byte]*identity.LocalAddress
	tbl             *table.Table
	bus             *events.Bus
	log             zerolog.Logger
}

// New builds a dialer over the given SOCKS5 unix-socket rendezvous path
// and the set of local identities available to dial from.
func New(socksSocketPath string, addresses []*identity.LocalAddress, tbl *table.Table, bus *events.Bus, log zerolog.Logger) *Dialer {
	byKey := make(map[[32]byte]*identity.LocalAddress, len(addresses))
	for _, a := range addresses {
		byKey[[32]byte(a.PublicKey)] = a
	}
	return &Dialer{socksSocketPath: socksSocketPath, addresses: byKey, tbl: tbl, bus: bus, log: log}
}

// Serve reads dial requests off reqs until it is closed, handling each in
// its own goroutine so a slow or hanging dial never blocks the next
// request.
func (d *Dialer) Serve(reqs <-chan Request) {
	for req := range reqs {
		req := req
		go d.handle(req)
	}
}

func (d *Dialer) handle(req Request) {
	err := d.Dial(req.Peer, req.Host)
	if req.Reply != nil {
		req.Reply <- err
	}
}

// Dial resolves host's secret key, opens the SOCKS5-tunneled stream to
// peer, and runs key agreement, peer auth, and the session loop as
// initiator. It returns once the session is running (or once setup
// failed); the session itself continues in a goroutine of its own.
func (d *Dialer) Dial(peer, host identity.PublicKey) error {
	local, ok := d.addresses[[32]byte(host)]
	if !ok {
		return verr.New(verr.HostPublicKeyDoesNotExist, host.Onion())
	}

	conn, err := d.connect(peer.Onion())
	if err != nil {
		return err
	}

	key, err := kem.Handshake(conn, true)
	if err != nil {
		conn.Close()
		return err
	}

	stream, err := record.New(conn, key)
	if err != nil {
		conn.Close()
		return err
	}

	if err := auth.Initiator(stream, local); err != nil {
		conn.Close()
		return err
	}

	go func() {
		defer conn.Close()
		if err := session.Run(stream, host, peer, d.tbl, d.bus, d.log); err != nil {
			d.log.Debug().Err(err).Str("component", "dialer").Msg("outbound session ended")
		}
	}()

	return nil
}

// connect opens a unix-domain stream to the local SOCKS5 rendezvous and
// issues a CONNECT to onion:TargetPort over it.
func (d *Dialer) connect(onion string) (net.Conn, error) {
	forward := unixForwardDialer{path: d.socksSocketPath}
	socksDialer, err := proxy.SOCKS5("unix", d.socksSocketPath, nil, forward)
	if err != nil {
		return nil, verr.Wrap(verr.Socks, err)
	}

	target := fmt.Sprintf("%s:%d", onion, TargetPort)
	conn, err := socksDialer.Dial("tcp", target)
	if err != nil {
		return nil, verr.Wrap(verr.Socks, err)
	}
	return conn, nil
}

// unixForwardDialer adapts a fixed unix-socket path to the proxy.Dialer
// interface x/net/proxy.SOCKS5 uses to reach the proxy itself: the
// network/addr it is called with is the proxy's own address (irrelevant
// here since there's only ever the one rendezvous socket), so both are
// ignored in favor of the configured path.
type unixForwardDialer struct {
	path string
}

func (u unixForwardDialer) Dial(_, _ string) (net.Conn, error) {
	return net.Dial("unix", u.path)
}
