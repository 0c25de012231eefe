package auth

import (
	"crypto/ed25519"
	"crypto/sha512"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/record"
	"github.com/veilmesh/veil/internal/verr"
)

func expand(seed []byte) identity.ExpandedSecretKey {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var esk identity.ExpandedSecretKey
	copy(esk[:], h[:])
	return esk
}

func writeIdentity(t *testing.T, dir, name string, seed []byte) *identity.LocalAddress {
	t.Helper()
	esk := expand(seed)
	pub, err := esk.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	idDir := filepath.Join(dir, name)
	if err := os.MkdirAll(idDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(idDir, "hostname"), []byte(pub.Onion()), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(idDir, "hs_ed25519_secret_key"), esk[:], 0600); err != nil {
		t.Fatal(err)
	}
	addr, err := identity.Load(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func pairedStreams(t *testing.T) (*record.Stream, *record.Stream) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	var key [32]byte
	sa, err := record.New(a, key)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := record.New(b, key)
	if err != nil {
		t.Fatal(err)
	}
	return sa, sb
}

func TestAuthSucceeds(t *testing.T) {
	dir := t.TempDir()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	initiatorID := writeIdentity(t, dir, "initiator", seed)

	acceptorStream, initiatorStream := pairedStreams(t)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- Initiator(initiatorStream, initiatorID)
	}()

	peer, err := Acceptor(acceptorStream)
	if err != nil {
		t.Fatalf("Acceptor: %v", err)
	}
	if err := <-resultCh; err != nil {
		t.Fatalf("Initiator: %v", err)
	}
	if !peer.Equal(initiatorID.PublicKey) {
		t.Fatal("acceptor did not recover initiator's public key")
	}
}

func TestAuthFailsOnWrongToken(t *testing.T) {
	dir := t.TempDir()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 9
	initiatorID := writeIdentity(t, dir, "initiator", seed)

	acceptorStream, initiatorStream := pairedStreams(t)

	// Fabricate an initiator that signs the wrong token.
	go func() {
		p, err := initiatorStream.Recv()
		if err != nil || !p.IsAuthToken() {
			return
		}
		wrongToken := make([]byte, 32)
		sig, err := initiatorID.Secret.Sign(wrongToken)
		if err != nil {
			return
		}
		_ = initiatorStream.SendOnionAndSig(initiatorID.PublicKey.Bytes(), sig)
	}()

	_, err := Acceptor(acceptorStream)
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
	if verr.KindOf(err) != verr.SignatureVerificationFailed {
		t.Fatalf("expected SignatureVerificationFailed, got %v", verr.KindOf(err))
	}
}

func TestAuthFailsOnWrongPacketType(t *testing.T) {
	acceptorStream, initiatorStream := pairedStreams(t)

	go func() {
		_, _ = initiatorStream.Recv()
		_ = initiatorStream.SendMessage("not an auth reply")
	}()

	_, err := Acceptor(acceptorStream)
	if err == nil {
		t.Fatal("expected wrong-packet-type failure")
	}
	if verr.KindOf(err) != verr.WrongPacketType {
		t.Fatalf("expected WrongPacketType, got %v", verr.KindOf(err))
	}
}
