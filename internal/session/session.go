// Package session implements the per-connection state machine entered
// once authentication succeeds: it registers a per-peer outbound sender
// in the shared address table, publishes lifecycle events, and
// multiplexes user data between that sender, the record-layer stream, and
// the event bus until either side closes.
package session

import (
	"github.com/rs/zerolog"

	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/packet"
	"github.com/veilmesh/veil/internal/record"
	"github.com/veilmesh/veil/internal/table"
	"github.com/veilmesh/veil/internal/verr"
)

type recvResult struct {
	pkt packet.Packet
	err error
}

// Run blocks for the lifetime of one authenticated connection. host is
// the local identity the peer connected to (or was dialed from); peer is
// the verified remote identity returned by the auth step. It returns the
// error that ended the session: a peer closing the stream ends it with the
// ConnectionClosed error from Recv. It returns nil only if the sender
// channel is closed.
//
// The per-peer sender registered here is never closed on exit: Go
// channels, unlike a Rust mpsc receiver, panic if a concurrent producer
// writes after close, and the design note's "clone the sender, drop the
// lock, then await the send" pattern means a producer can already hold a
// reference past the table.Remove below. Removing the table entry first
// is what matters for the address-table invariant; the abandoned channel
// is collected once no producer holds it.
func Run(stream *record.Stream, host, peer identity.PublicKey, tbl *table.Table, bus *events.Bus, log zerolog.Logger) error {
	hostKey := [32]byte(host)
	peerKey := [32]byte(peer)

	sender := table.NewSender()
	tbl.Register(hostKey, peerKey, sender)
	bus.Publish(events.NewConnectionEstablished(peerKey, hostKey))

	log = log.With().Str("component", "session").Str("host", host.Onion()).Str("peer", peer.Onion()).Logger()
	log.Debug().Msg("session established")

	// Buffered by 1: once the main loop terminates the session (on a
	// protocol violation or a recv error), nothing reads recvCh again, but
	// the goroutine's in-flight stream.Recv() call is already past the
	// point of no return. The buffer lets its final send land without a
	// reader so the goroutine can return instead of blocking forever.
	recvCh := make(chan recvResult, 1)
	go func() {
		for {
			p, err := stream.Recv()
			recvCh <- recvResult{pkt: p, err: err}
			if err != nil {
				return
			}
		}
	}()

	terminate := func() {
		tbl.Remove(hostKey, peerKey)
		bus.Publish(events.NewDisconnected(peerKey, hostKey))
		log.Debug().Msg("session terminated")
	}

	for {
		select {
		case item, ok := <-sender:
			if !ok {
				terminate()
				return nil
			}
			if err := stream.SendMessage(item.Data); err != nil {
				log.Debug().Err(err).Msg("failed to write outbound data; awaiting next multiplex step")
				continue
			}
			bus.Publish(events.NewSendDataConfirmation(item.Token))

		case res := <-recvCh:
			if res.err != nil {
				terminate()
				return res.err
			}
			if !res.pkt.IsData() {
				terminate()
				return verr.Wrongf("expected Data packet during an established session, got a different packet")
			}
			bus.Publish(events.NewDataReceived(peerKey, hostKey, res.pkt.DataMessage.Message))
		}
	}
}
