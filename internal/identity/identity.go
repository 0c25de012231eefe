// Package identity implements the node's notion of a peer identity: a
// 32-byte Ed25519 public key with the Tor v3 onion-address encoding, and
// the on-disk local address material (public key plus expanded secret key)
// a listener loads at startup.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"

	"github.com/veilmesh/veil/internal/verr"
)

// PublicKeySize is the raw size of an Ed25519 point.
const PublicKeySize = ed25519.PublicKeySize

// SignatureSize is the raw size of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// ExpandedSecretKeySize is the size of Tor's on-disk hs_ed25519_secret_key
// expanded form: a clamped 32-byte scalar followed by a 32-byte
// nonce-derivation prefix.
const ExpandedSecretKeySize = 64

const onionChecksumPrefix = ".onion checksum"
const onionVersion byte = 0x03

// PublicKey is a verified 32-byte Ed25519 point.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes copies b into a PublicKey, validating both the length
// and that the bytes form a valid point on the curve.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, verr.New(verr.BadPublicKey, fmt.Sprintf("expected %d bytes, got %d", PublicKeySize, len(b)))
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return pk, verr.Wrap(verr.BadPublicKey, err)
	}
	copy(pk[:], b)
	return pk, nil
}

// Bytes returns the raw 32-byte point.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, pk[:])
	return b
}

// Equal reports whether two public keys hold the same raw bytes.
func (pk PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(pk[:], other[:])
}

// Verify checks sig over msg under pk using standard Ed25519 verification
// (verification needs only the public point, not the expanded secret key,
// so the stdlib implementation applies unchanged).
func (pk PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig)
}

// Onion returns the 62-character onion address (including ".onion") for pk.
func (pk PublicKey) Onion() string {
	return encodeOnion(pk[:])
}

func encodeOnion(pubkey []byte) string {
	checksum := onionChecksum(pubkey)
	payload := make([]byte, 0, PublicKeySize+2+1)
	payload = append(payload, pubkey...)
	payload = append(payload, checksum[0], checksum[1])
	payload = append(payload, onionVersion)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(payload)
	return strings.ToLower(enc) + ".onion"
}

func onionChecksum(pubkey []byte) [2]byte {
	h := sha3.New256()
	h.Write([]byte(onionChecksumPrefix))
	h.Write(pubkey)
	h.Write([]byte{onionVersion})
	sum := h.Sum(nil)
	var out [2]byte
	copy(out[:], sum[:2])
	return out
}

// DecodeOnion parses a 62-character onion address (with or without the
// ".onion" suffix already stripped to the 56-character encoded form) into a
// verified PublicKey.
func DecodeOnion(address string) (PublicKey, error) {
	var pk PublicKey

	addr := strings.ToLower(strings.TrimSpace(address))
	addr = strings.TrimSuffix(addr, ".onion")
	if len(addr) != 56 {
		return pk, verr.New(verr.BadHostname, fmt.Sprintf("expected 56-character encoded address, got %d", len(addr)))
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(addr))
	if err != nil {
		return pk, verr.Wrap(verr.BadHostname, err)
	}
	if len(decoded) != PublicKeySize+2+1 {
		return pk, verr.New(verr.BadHostname, fmt.Sprintf("decoded length %d, expected %d", len(decoded), PublicKeySize+2+1))
	}

	pubkey := decoded[:PublicKeySize]
	checksum := decoded[PublicKeySize : PublicKeySize+2]
	version := decoded[PublicKeySize+2]

	if version != onionVersion {
		return pk, verr.New(verr.BadHostname, fmt.Sprintf("unsupported version byte 0x%02x", version))
	}

	want := onionChecksum(pubkey)
	if checksum[0] != want[0] || checksum[1] != want[1] {
		return pk, verr.New(verr.BadHostname, "checksum mismatch")
	}

	return PublicKeyFromBytes(pubkey)
}

// ExpandedSecretKey is the clamped-scalar-plus-prefix form Tor stores on
// disk, used to sign without a 32-byte seed.
type ExpandedSecretKey [ExpandedSecretKeySize]byte

func (esk ExpandedSecretKey) scalar() (*edwards25519.Scalar, error) {
	// The on-disk scalar is already clamped per RFC 8032 step 1; SetBytesWithClamping
	// re-clamps idempotently, which is harmless and avoids a second field for
	// "already clamped" bookkeeping.
	return new(edwards25519.Scalar).SetBytesWithClamping(esk[:32])
}

func (esk ExpandedSecretKey) prefix() []byte {
	return esk[32:64]
}

// Sign produces a raw RFC 8032 EdDSA signature over msg using the expanded
// secret key directly, bypassing crypto/ed25519's seed-only API (which
// re-derives scalar and prefix from a 32-byte seed via SHA-512 and cannot
// accept a pre-expanded key).
func (esk ExpandedSecretKey) Sign(msg []byte) ([]byte, error) {
	s, err := esk.scalar()
	if err != nil {
		return nil, verr.Wrap(verr.BadSecretKey, err)
	}

	A := new(edwards25519.Point).ScalarBaseMult(s)
	pubBytes := A.Bytes()

	// r = SHA-512(prefix || msg) mod L
	rh := sha512.New()
	rh.Write(esk.prefix())
	rh.Write(msg)
	rDigest := rh.Sum(nil)
	r, err := new(edwards25519.Scalar).SetUniformBytes(rDigest)
	if err != nil {
		return nil, verr.Wrap(verr.BadSecretKey, err)
	}

	R := new(edwards25519.Point).ScalarBaseMult(r)
	RBytes := R.Bytes()

	// k = SHA-512(R || A || msg) mod L
	kh := sha512.New()
	kh.Write(RBytes)
	kh.Write(pubBytes)
	kh.Write(msg)
	kDigest := kh.Sum(nil)
	k, err := new(edwards25519.Scalar).SetUniformBytes(kDigest)
	if err != nil {
		return nil, verr.Wrap(verr.BadSecretKey, err)
	}

	// S = r + k*s mod L
	S := new(edwards25519.Scalar).MultiplyAdd(k, s, r)

	sig := make([]byte, SignatureSize)
	copy(sig[:32], RBytes)
	copy(sig[32:], S.Bytes())
	return sig, nil
}

// PublicKey derives the Ed25519 public point corresponding to esk.
func (esk ExpandedSecretKey) PublicKey() (PublicKey, error) {
	s, err := esk.scalar()
	if err != nil {
		return PublicKey{}, verr.Wrap(verr.BadSecretKey, err)
	}
	A := new(edwards25519.Point).ScalarBaseMult(s)
	return PublicKeyFromBytes(A.Bytes())
}

// LocalAddress is one node identity: its verified public key, the expanded
// secret key used to sign on its behalf, and the on-disk name used to
// locate the anonymizing-transport rendezvous socket.
type LocalAddress struct {
	Name      string
	PublicKey PublicKey
	Secret    ExpandedSecretKey
}

// Load reads data/incoming/<name>/hostname and hs_ed25519_secret_key,
// derives the public key from the secret key, and verifies it matches the
// hostname file before returning.
func Load(baseDir, name string) (*LocalAddress, error) {
	dir := filepath.Join(baseDir, name)

	hostnameBytes, err := os.ReadFile(filepath.Join(dir, "hostname"))
	if err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}
	hostname := strings.TrimSpace(string(hostnameBytes))

	keyBytes, err := os.ReadFile(filepath.Join(dir, "hs_ed25519_secret_key"))
	if err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}
	if len(keyBytes) < ExpandedSecretKeySize {
		return nil, verr.New(verr.BadSecretKey, fmt.Sprintf("secret key file too short: %d bytes", len(keyBytes)))
	}
	var esk ExpandedSecretKey
	copy(esk[:], keyBytes[len(keyBytes)-ExpandedSecretKeySize:])

	pub, err := esk.PublicKey()
	if err != nil {
		return nil, err
	}

	wantPub, err := DecodeOnion(hostname)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(wantPub) {
		return nil, verr.New(verr.BadHostname, fmt.Sprintf("derived public key does not match %s", hostname))
	}

	return &LocalAddress{Name: name, PublicKey: pub, Secret: esk}, nil
}

// SocketPath returns the inbound rendezvous unix socket path for this
// identity, per the on-disk layout in the external interfaces contract.
func (a *LocalAddress) SocketPath(baseDir string) string {
	return filepath.Join(baseDir, a.Name, "incoming.sock")
}

// Generate creates a fresh identity named name under baseDir: a random
// Ed25519 seed expanded into the on-disk hs_ed25519_secret_key form, and a
// hostname file holding its onion address. Returns the loaded
// LocalAddress, following the same on-disk layout Load consumes.
func Generate(baseDir, name string) (*LocalAddress, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	digest := sha512.Sum512(seed)
	digest[0] &= 248
	digest[31] &= 127
	digest[31] |= 64

	var esk ExpandedSecretKey
	copy(esk[:], digest[:])

	pub, err := esk.PublicKey()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hostname"), []byte(pub.Onion()), 0600); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hs_ed25519_secret_key"), esk[:], 0600); err != nil {
		return nil, verr.Wrap(verr.Io, err)
	}

	return &LocalAddress{Name: name, PublicKey: pub, Secret: esk}, nil
}
