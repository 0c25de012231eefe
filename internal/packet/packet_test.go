package packet

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := make([]byte, 32)
	for i := range tok {
		tok[i] = byte(i)
	}
	b, err := EncodeToken(tok)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.IsAuthToken() {
		t.Fatal("expected AuthToken variant")
	}
	if string(p.AuthToken.Token) != string(tok) {
		t.Fatal("token mismatch after round trip")
	}
}

func TestOnionAndSigRoundTrip(t *testing.T) {
	pub := make([]byte, 32)
	sig := make([]byte, 64)
	for i := range pub {
		pub[i] = byte(i + 1)
	}
	for i := range sig {
		sig[i] = byte(i + 2)
	}
	b, err := EncodeOnionAndSig(pub, sig)
	if err != nil {
		t.Fatalf("EncodeOnionAndSig: %v", err)
	}
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.IsAuthOnionAndSig() {
		t.Fatal("expected AuthOnionAndSig variant")
	}
	if string(p.AuthOnionAndSig.PubKey) != string(pub) || string(p.AuthOnionAndSig.Sig) != string(sig) {
		t.Fatal("onion_and_sig mismatch after round trip")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	b, err := EncodeMessage("hi")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.IsData() {
		t.Fatal("expected Data variant")
	}
	if p.DataMessage.Message != "hi" {
		t.Fatalf("message mismatch: got %q", p.DataMessage.Message)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	malformed := struct {
		Kind string `bson:"kind"`
	}{Kind: "bogus"}
	raw, err := bson.Marshal(malformed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for unknown envelope kind")
	}
}
