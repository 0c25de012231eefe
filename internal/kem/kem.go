// Package kem implements the post-quantum key-agreement handshake: a
// single Kyber-1024 round producing a 32-byte session key, run directly
// over a raw byte stream before any framed traffic flows.
package kem

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"golang.org/x/crypto/sha3"

	"github.com/veilmesh/veil/internal/verr"
)

// SessionKeySize is the size of the derived symmetric session key.
const SessionKeySize = 32

// Handshake runs the key-agreement protocol over stream and returns the
// derived session key. initiator selects the role: true reads the
// responder's public key and encapsulates against it; false generates an
// ephemeral keypair, publishes it, and decapsulates the reply.
//
// The shared-secret-to-session-key derivation folds every KEM round's
// shared secret into one SHA3-256 digest in a fixed order on both sides,
// so a future second round is a one-line addition to the secrets slice
// rather than a protocol rewrite.
func Handshake(stream io.ReadWriter, initiator bool) ([SessionKeySize]byte, error) {
	var key [SessionKeySize]byte

	var secrets [][]byte
	var err error
	if initiator {
		secrets, err = initiatorRound(stream)
	} else {
		secrets, err = responderRound(stream)
	}
	if err != nil {
		return key, err
	}

	h := sha3.New256()
	for _, s := range secrets {
		h.Write(s)
	}
	sum := h.Sum(nil)
	copy(key[:], sum)
	return key, nil
}

func initiatorRound(stream io.ReadWriter) ([][]byte, error) {
	pubBytes := make([]byte, kyber1024.PublicKeySize)
	if _, err := io.ReadFull(stream, pubBytes); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	var pub kyber1024.PublicKey
	if err := pub.Unpack(pubBytes); err != nil {
		return nil, verr.Wrap(verr.Kem, err)
	}

	ct := make([]byte, kyber1024.CiphertextSize)
	ss := make([]byte, kyber1024.SharedKeySize)
	pub.EncapsulateTo(ct, ss, nil)

	if _, err := stream.Write(ct); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	return [][]byte{ss}, nil
}

func responderRound(stream io.ReadWriter) ([][]byte, error) {
	pub, priv, err := kyber1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, verr.Wrap(verr.Kem, err)
	}

	pubBytes := make([]byte, kyber1024.PublicKeySize)
	pub.Pack(pubBytes)
	if _, err := stream.Write(pubBytes); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	ct := make([]byte, kyber1024.CiphertextSize)
	if _, err := io.ReadFull(stream, ct); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	ss := make([]byte, kyber1024.SharedKeySize)
	priv.DecapsulateTo(ss, ct)

	return [][]byte{ss}, nil
}
