// Package bridge implements the client-facing HTTP and websocket surface
// named as a collaborator in the specification's scope: it publishes the
// event bus to a UI and accepts UI-originated connect/send-data actions.
// Only the event-bus contract is part of the specified core; this surface
// is enrichment. It stores nothing: there is no persistence hook (see
// SPEC_FULL.md).
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veilmesh/veil/internal/dialer"
	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/table"
	"github.com/veilmesh/veil/internal/verr"
)

// Bridge serves the UI-facing HTTP API and websocket event stream.
type Bridge struct {
	tbl        *table.Table
	bus        *events.Bus
	dialReqs   chan<- dialer.Request
	identities map[[32]byte]struct{}
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// New builds a Bridge. dialReqs is the same channel a dialer.Dialer
// serves from. addresses is the full set of locally loaded identities —
// the same set the dialer checks a host against — so "host unknown" can
// be told apart from "peer unknown" for a host with no active peers.
func New(tbl *table.Table, bus *events.Bus, dialReqs chan<- dialer.Request, addresses []*identity.LocalAddress, log zerolog.Logger) *Bridge {
	identities := make(map[[32]byte]struct{}, len(addresses))
	for _, a := range addresses {
		identities[[32]byte(a.PublicKey)] = struct{}{}
	}
	return &Bridge{
		tbl:        tbl,
		bus:        bus,
		dialReqs:   dialReqs,
		identities: identities,
		log:        log.With().Str("component", "bridge").Logger(),
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// hasIdentity reports whether host is one of this bridge's locally loaded
// identities, regardless of whether it currently has any live peers.
func (b *Bridge) hasIdentity(host identity.PublicKey) bool {
	_, ok := b.identities[[32]byte(host)]
	return ok
}

// Router builds the chi router exposing this bridge's HTTP surface.
func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/connect", b.handleConnect)
	r.Get("/ws", b.handleWS)
	return r
}

type connectRequest struct {
	PeerPublicKey string `json:"peer_public_key"`
	HostPublicKey string `json:"host_public_key"`
}

func (b *Bridge) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, verr.New(verr.Serde, "invalid request body"))
		return
	}

	peer, err := decodeKey(req.PeerPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	host, err := decodeKey(req.HostPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply := make(chan error, 1)
	b.dialReqs <- dialer.Request{Peer: peer, Host: host, Reply: reply}
	if err := <-reply; err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeKey(s string) (identity.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return identity.PublicKey{}, verr.Wrap(verr.BadPublicKey, err)
	}
	return identity.PublicKeyFromBytes(raw)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(verr.ToJSON(err))
}

// clientMessage is the shape a websocket client sends to originate a
// send. Token is base64 of the 12-byte send-correlation token.
type clientMessage struct {
	Type          string `json:"type"`
	Token         string `json:"token,omitempty"`
	PeerPublicKey string `json:"peer_public_key,omitempty"`
	HostPublicKey string `json:"host_public_key,omitempty"`
	Data          string `json:"data,omitempty"`
}

// serverMessage is the shape this bridge sends to a websocket client:
// only the optional fields relevant to Type are populated.
type serverMessage struct {
	Type               string              `json:"type"`
	Peer               string              `json:"peer,omitempty"`
	Host               string              `json:"host,omitempty"`
	Data               string              `json:"data,omitempty"`
	Token              string              `json:"token,omitempty"`
	ErrorKind          string              `json:"error_kind,omitempty"`
	ConnectedHostPeers map[string][]string `json:"connected,omitempty"`
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}
	safeWrite := func(msg serverMessage) error {
		<-writeMu
		defer func() { writeMu <- struct{}{} }()
		return conn.WriteJSON(msg)
	}

	if err := safeWrite(b.initializeSnapshot()); err != nil {
		return
	}

	evCh, unsub := b.bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			b.handleClientMessage(msg, safeWrite)
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			if msg, ok := toServerMessage(ev); ok {
				if err := safeWrite(msg); err != nil {
					return
				}
			}
		}
	}
}

func (b *Bridge) initializeSnapshot() serverMessage {
	snap := b.tbl.Snapshot()
	connected := make(map[string][]string, len(snap))
	for host, peers := range snap {
		pk := identity.PublicKey(host)
		peerStrs := make([]string, 0, len(peers))
		for _, p := range peers {
			peerStrs = append(peerStrs, identity.PublicKey(p).Onion())
		}
		connected[pk.Onion()] = peerStrs
	}
	return serverMessage{Type: "initialize", ConnectedHostPeers: connected}
}

func (b *Bridge) handleClientMessage(msg clientMessage, safeWrite func(serverMessage) error) {
	switch msg.Type {
	case "connect":
		peer, err := decodeKey(msg.PeerPublicKey)
		if err != nil {
			_ = safeWrite(errorMessage(err))
			return
		}
		host, err := decodeKey(msg.HostPublicKey)
		if err != nil {
			_ = safeWrite(errorMessage(err))
			return
		}
		reply := make(chan error, 1)
		b.dialReqs <- dialer.Request{Peer: peer, Host: host, Reply: reply}
		go func() {
			if err := <-reply; err != nil {
				_ = safeWrite(errorMessage(err))
			}
		}()

	case "send_data":
		b.handleSendData(msg, safeWrite)

	default:
		_ = safeWrite(errorMessage(verr.New(verr.Serde, "unknown client message type")))
	}
}

func (b *Bridge) handleSendData(msg clientMessage, safeWrite func(serverMessage) error) {
	host, err := decodeKey(msg.HostPublicKey)
	if err != nil {
		_ = safeWrite(errorMessage(err))
		return
	}
	peer, err := decodeKey(msg.PeerPublicKey)
	if err != nil {
		_ = safeWrite(errorMessage(err))
		return
	}

	if !b.hasIdentity(host) {
		_ = safeWrite(errorMessage(verr.New(verr.HostPublicKeyDoesNotExist, host.Onion())))
		return
	}
	sender, ok := b.tbl.Lookup([32]byte(host), [32]byte(peer))
	if !ok {
		_ = safeWrite(errorMessage(verr.New(verr.PeerPublicKeyDoesNotExist, peer.Onion())))
		return
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(msg.Token)
	if err != nil || len(tokenBytes) != 12 {
		_ = safeWrite(errorMessage(verr.New(verr.Serde, "bad send token")))
		return
	}
	var token [12]byte
	copy(token[:], tokenBytes)

	select {
	case sender <- table.SendItem{Token: token, Data: msg.Data}:
	case <-time.After(30 * time.Second):
		_ = safeWrite(errorMessage(verr.New(verr.ConnectionClosed, "peer sender unavailable")))
	}
}

func errorMessage(err error) serverMessage {
	return serverMessage{Type: "error", ErrorKind: verr.ToJSON(err).ErrorKind}
}

func toServerMessage(ev events.Event) (serverMessage, bool) {
	switch {
	case ev.ConnectionEstablished != nil:
		e := ev.ConnectionEstablished
		return serverMessage{Type: "connection_established", Peer: identity.PublicKey(e.Peer).Onion(), Host: identity.PublicKey(e.Host).Onion()}, true
	case ev.Disconnected != nil:
		e := ev.Disconnected
		return serverMessage{Type: "disconnected", Peer: identity.PublicKey(e.Peer).Onion(), Host: identity.PublicKey(e.Host).Onion()}, true
	case ev.DataReceived != nil:
		e := ev.DataReceived
		return serverMessage{Type: "data_received", Peer: identity.PublicKey(e.Peer).Onion(), Host: identity.PublicKey(e.Host).Onion(), Data: e.Data}, true
	case ev.SendDataConfirmation != nil:
		e := ev.SendDataConfirmation
		return serverMessage{Type: "send_data_confirmation", Token: base64.StdEncoding.EncodeToString(e.Token[:])}, true
	default:
		return serverMessage{}, false
	}
}
