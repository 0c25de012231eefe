// Package record implements the framed, authenticated-encryption layer
// that transports packet envelopes over any byte-oriented full-duplex
// stream once a session key has been agreed.
//
// Outer framing: u32_be length || inner payload. Inner payload shape:
// nonce(12) || tag(16) || ciphertext(n). Encryption is AES-256-GCM with
// the session key and empty associated data.
package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/veilmesh/veil/internal/packet"
	"github.com/veilmesh/veil/internal/verr"
)

const (
	nonceSize = 12
	tagSize   = 16
	headerLen = nonceSize + tagSize
)

// Stream is a duplex codec of packet.Packet over an underlying
// io.ReadWriter, wrapping it with AES-256-GCM and length-delimited
// framing. The session key lives only inside the Stream; it is never
// exposed to callers once constructed.
type Stream struct {
	rw   io.ReadWriter
	aead cipher.AEAD
}

// New wraps rw with the session key agreed during the handshake.
func New(rw io.ReadWriter, sessionKey [32]byte) (*Stream, error) {
	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, verr.Wrap(verr.AesEncryptionError, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, verr.Wrap(verr.AesEncryptionError, err)
	}
	return &Stream{rw: rw, aead: aead}, nil
}

// Send encrypts p, an already-encoded packet envelope, and writes one
// length-delimited frame.
func (s *Stream) Send(p []byte) error {
	buf := make([]byte, headerLen+len(p))
	if _, err := rand.Read(buf[:nonceSize]); err != nil {
		return verr.Wrap(verr.Io, err)
	}
	nonce := buf[:nonceSize]
	plaintext := buf[headerLen:]
	copy(plaintext, p)

	// Seal returns ciphertext||tag; the frame wants the tag in its fixed
	// slot ahead of the ciphertext, so seal into a scratch buffer and copy
	// the tag and the ciphertext into their slots of buf.
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-s.aead.Overhead()]
	tag := sealed[len(sealed)-s.aead.Overhead():]
	copy(buf[nonceSize:headerLen], tag)
	copy(buf[headerLen:], ciphertext)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := s.rw.Write(hdr[:]); err != nil {
		return verr.Wrap(verr.Io, err)
	}
	if _, err := s.rw.Write(buf); err != nil {
		return verr.Wrap(verr.Io, err)
	}
	return nil
}

// SendToken encodes and sends an Authenticate(Token) packet.
func (s *Stream) SendToken(tok []byte) error {
	b, err := packet.EncodeToken(tok)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// SendOnionAndSig encodes and sends an Authenticate(OnionAndSig) packet.
func (s *Stream) SendOnionAndSig(pubKey, sig []byte) error {
	b, err := packet.EncodeOnionAndSig(pubKey, sig)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// SendMessage encodes and sends a Data(Message) packet.
func (s *Stream) SendMessage(msg string) error {
	b, err := packet.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// Recv reads one frame, decrypts it, and decodes the packet envelope.
func (s *Stream) Recv() (packet.Packet, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(s.rw, hdr[:]); err != nil {
		return packet.Packet{}, verr.Wrap(verr.ConnectionClosed, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])

	frame := make([]byte, n)
	if _, err := io.ReadFull(s.rw, frame); err != nil {
		return packet.Packet{}, verr.Wrap(verr.ConnectionClosed, err)
	}

	if len(frame) < headerLen {
		return packet.Packet{}, verr.New(verr.AesBadLength, "frame shorter than nonce+tag header")
	}

	nonce := frame[:nonceSize]
	tag := frame[nonceSize:headerLen]
	ciphertext := frame[headerLen:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return packet.Packet{}, verr.Wrap(verr.AesBadTag, err)
	}

	p, err := packet.Decode(plaintext)
	if err != nil {
		return packet.Packet{}, err
	}
	return p, nil
}
