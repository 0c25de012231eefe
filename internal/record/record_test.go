package record

import (
	"bytes"
	"net"
	"testing"

	"github.com/veilmesh/veil/internal/verr"
)

func sharedKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	key := sharedKey()
	sa, err := New(a, key)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := New(b, key)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sa.SendMessage("hello world")
	}()

	p, err := sb.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !p.IsData() || p.DataMessage.Message != "hello world" {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestBadTagOnBitFlip(t *testing.T) {
	buf := &bytes.Buffer{}
	key := sharedKey()
	s, err := New(buf, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SendMessage("hi"); err != nil {
		t.Fatal(err)
	}

	raw := buf.Bytes()
	// Flip a bit well inside the frame (past the 4-byte length header).
	raw[10] ^= 0x01

	r, err := New(bytes.NewReader(raw), key)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Recv()
	if err == nil {
		t.Fatal("expected decryption failure after bit flip")
	}
	if verr.KindOf(err) != verr.AesBadTag {
		t.Fatalf("expected AesBadTag, got %v", verr.KindOf(err))
	}
}

func TestBadLengthFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	// Write a frame declaring 10 bytes (< 28-byte nonce+tag header).
	buf.Write([]byte{0, 0, 0, 10})
	buf.Write(make([]byte, 10))

	key := sharedKey()
	r, err := New(buf, key)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Recv()
	if err == nil {
		t.Fatal("expected bad-length failure")
	}
	if verr.KindOf(err) != verr.AesBadLength {
		t.Fatalf("expected AesBadLength, got %v", verr.KindOf(err))
	}
}

func TestNonceFreshness(t *testing.T) {
	bufA := &bytes.Buffer{}
	bufB := &bytes.Buffer{}
	key := sharedKey()

	sa, err := New(bufA, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := sa.SendMessage("same plaintext"); err != nil {
		t.Fatal(err)
	}

	sb, err := New(bufB, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := sb.SendMessage("same plaintext"); err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertext frames")
	}
}
