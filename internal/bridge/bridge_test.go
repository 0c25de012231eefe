package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/veilmesh/veil/internal/dialer"
	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/table"
)

func TestHandleConnectRejectsBadKey(t *testing.T) {
	reqs := make(chan dialer.Request, 1)
	b := New(table.New(), events.NewBus(), reqs, nil, zerolog.Nop())

	body := `{"peer_public_key":"not-base64!!","host_public_key":"also-bad"}`
	r := httptest.NewRequest(http.MethodPost, "/connect", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	b.Router().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["error_kind"] == "" {
		t.Fatal("expected error_kind in response body")
	}
}

func TestHandleConnectDispatchesDialRequest(t *testing.T) {
	reqs := make(chan dialer.Request, 1)
	b := New(table.New(), events.NewBus(), reqs, nil, zerolog.Nop())

	peerAddr, err := identity.Generate(t.TempDir(), "peer")
	if err != nil {
		t.Fatalf("Generate peer: %v", err)
	}
	hostAddr, err := identity.Generate(t.TempDir(), "host")
	if err != nil {
		t.Fatalf("Generate host: %v", err)
	}
	peer := peerAddr.PublicKey.Bytes()
	host := hostAddr.PublicKey.Bytes()

	go func() {
		req := <-reqs
		req.Reply <- nil
	}()

	body, err := json.Marshal(connectRequest{
		PeerPublicKey: base64.StdEncoding.EncodeToString(peer),
		HostPublicKey: base64.StdEncoding.EncodeToString(host),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/connect", bytes.NewReader(body))
	w := httptest.NewRecorder()
	b.Router().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// TestHandleSendDataDistinguishesHostFromPeer guards against conflating "no
// locally loaded identity matches host" with "host is loaded but has no live
// peer session": a host with zero active connections must still report
// PeerPublicKeyDoesNotExist, not HostPublicKeyDoesNotExist.
func TestHandleSendDataDistinguishesHostFromPeer(t *testing.T) {
	hostAddr, err := identity.Generate(t.TempDir(), "host")
	if err != nil {
		t.Fatalf("Generate host: %v", err)
	}
	peerAddr, err := identity.Generate(t.TempDir(), "peer")
	if err != nil {
		t.Fatalf("Generate peer: %v", err)
	}
	strangerAddr, err := identity.Generate(t.TempDir(), "stranger")
	if err != nil {
		t.Fatalf("Generate stranger: %v", err)
	}

	reqs := make(chan dialer.Request, 1)
	b := New(table.New(), events.NewBus(), reqs, []*identity.LocalAddress{hostAddr}, zerolog.Nop())

	collect := func(msg clientMessage) serverMessage {
		var got serverMessage
		b.handleSendData(msg, func(m serverMessage) error {
			got = m
			return nil
		})
		return got
	}

	// host is loaded locally but has no live peer session: must be
	// PeerPublicKeyDoesNotExist, not HostPublicKeyDoesNotExist.
	got := collect(clientMessage{
		Type:          "send_data",
		HostPublicKey: base64.StdEncoding.EncodeToString(hostAddr.PublicKey.Bytes()),
		PeerPublicKey: base64.StdEncoding.EncodeToString(peerAddr.PublicKey.Bytes()),
		Token:         base64.StdEncoding.EncodeToString(make([]byte, 12)),
		Data:          "hi",
	})
	if got.Type != "error" || got.ErrorKind != "peer_public_key_does_not_exist" {
		t.Fatalf("expected peer_public_key_does_not_exist, got %+v", got)
	}

	// stranger is not a locally loaded identity at all: must be
	// HostPublicKeyDoesNotExist.
	got = collect(clientMessage{
		Type:          "send_data",
		HostPublicKey: base64.StdEncoding.EncodeToString(strangerAddr.PublicKey.Bytes()),
		PeerPublicKey: base64.StdEncoding.EncodeToString(peerAddr.PublicKey.Bytes()),
		Token:         base64.StdEncoding.EncodeToString(make([]byte, 12)),
		Data:          "hi",
	})
	if got.Type != "error" || got.ErrorKind != "host_public_key_does_not_exist" {
		t.Fatalf("expected host_public_key_does_not_exist, got %+v", got)
	}
}
