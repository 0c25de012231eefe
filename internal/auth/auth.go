// Package auth implements the peer authentication protocol that runs
// atop the record layer immediately after key agreement: a token
// challenge bound to an Ed25519 signature, converting (stream,
// local-identity) into (stream, verified-peer-identity).
//
// The signature covers the acceptor-generated token only — never any
// transport-supplied address — so the peer identity used everywhere else
// in the node is exactly the public key whose signature verified here
// (spec design note: signature binding).
package auth

import (
	"crypto/rand"

	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/record"
	"github.com/veilmesh/veil/internal/verr"
)

const tokenSize = 32

// Acceptor runs the listener side: send a fresh random token, require the
// next packet to be Authenticate(OnionAndSig), verify the signature over
// the token under the carried public key, and return that public key as
// the verified peer identity.
func Acceptor(stream *record.Stream) (identity.PublicKey, error) {
	token := make([]byte, tokenSize)
	if _, err := rand.Read(token); err != nil {
		return identity.PublicKey{}, verr.Wrap(verr.Io, err)
	}
	if err := stream.SendToken(token); err != nil {
		return identity.PublicKey{}, err
	}

	p, err := stream.Recv()
	if err != nil {
		return identity.PublicKey{}, err
	}
	if !p.IsAuthOnionAndSig() {
		return identity.PublicKey{}, verr.Wrongf("expected Authenticate(OnionAndSig), got a different packet")
	}

	pub, err := identity.PublicKeyFromBytes(p.AuthOnionAndSig.PubKey)
	if err != nil {
		return identity.PublicKey{}, err
	}

	if !pub.Verify(token, p.AuthOnionAndSig.Sig) {
		return identity.PublicKey{}, verr.New(verr.SignatureVerificationFailed, "signature over token did not verify")
	}

	return pub, nil
}

// Initiator runs the dialer side: read the acceptor's token challenge,
// sign it with the local identity's expanded secret key, and reply with
// the local public key plus signature.
func Initiator(stream *record.Stream, local *identity.LocalAddress) error {
	p, err := stream.Recv()
	if err != nil {
		return err
	}
	if !p.IsAuthToken() {
		return verr.Wrongf("expected Authenticate(Token), got a different packet")
	}

	sig, err := local.Secret.Sign(p.AuthToken.Token)
	if err != nil {
		return err
	}

	return stream.SendOnionAndSig(local.PublicKey.Bytes(), sig)
}
