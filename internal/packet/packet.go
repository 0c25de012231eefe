// Package packet defines the envelope carried by the record layer: a
// BSON-encoded tagged union discriminated by an explicit "kind" field, so
// new Data variants can be added without breaking existing peers (spec
// design note: never encode variants positionally).
package packet

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/veilmesh/veil/internal/verr"
)

const (
	kindAuthenticate = "authenticate"
	kindData         = "data"

	authKindToken       = "token"
	authKindOnionAndSig = "onion_and_sig"

	dataKindMessage = "message"
)

// envelope is the outer tagged union written to and read from the record
// layer: Kind selects which of Authenticate/Data is populated, and Data
// carries the inner BSON document so it can be decoded according to Kind.
type envelope struct {
	Kind string   `bson:"kind"`
	Data bson.Raw `bson:"data"`
}

// Token is the acceptor's authentication challenge.
type Token struct {
	Token []byte `bson:"token"`
}

// OnionAndSig is the initiator's signed reply to a Token challenge.
type OnionAndSig struct {
	PubKey []byte `bson:"pub_key"`
	Sig    []byte `bson:"sig"`
}

// Message is the sole Data variant this repo defines; the envelope shape
// admits more without changing the record layer.
type Message struct {
	Message string `bson:"message"`
}

type authEnvelope struct {
	Kind string   `bson:"kind"`
	Data bson.Raw `bson:"data"`
}

type dataEnvelope struct {
	Kind string   `bson:"kind"`
	Data bson.Raw `bson:"data"`
}

// Packet is the decoded, caller-facing form of an envelope: exactly one of
// the following is non-nil.
type Packet struct {
	AuthToken       *Token
	AuthOnionAndSig *OnionAndSig
	DataMessage     *Message
}

// EncodeToken serializes a Token challenge packet.
func EncodeToken(tok []byte) ([]byte, error) {
	inner, err := bson.Marshal(Token{Token: tok})
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	return marshalAuth(authKindToken, inner)
}

// EncodeOnionAndSig serializes a signed-reply packet.
func EncodeOnionAndSig(pubKey, sig []byte) ([]byte, error) {
	inner, err := bson.Marshal(OnionAndSig{PubKey: pubKey, Sig: sig})
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	return marshalAuth(authKindOnionAndSig, inner)
}

// EncodeMessage serializes a user-data packet.
func EncodeMessage(msg string) ([]byte, error) {
	inner, err := bson.Marshal(Message{Message: msg})
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	outer := dataEnvelope{Kind: dataKindMessage, Data: bson.Raw(inner)}
	b, err := bson.Marshal(outer)
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	return marshalOuter(kindData, b)
}

func marshalAuth(innerKind string, inner []byte) ([]byte, error) {
	auth := authEnvelope{Kind: innerKind, Data: bson.Raw(inner)}
	authBytes, err := bson.Marshal(auth)
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	return marshalOuter(kindAuthenticate, authBytes)
}

func marshalOuter(kind string, inner []byte) ([]byte, error) {
	outer := envelope{Kind: kind, Data: bson.Raw(inner)}
	b, err := bson.Marshal(outer)
	if err != nil {
		return nil, verr.Wrap(verr.Serde, err)
	}
	return b, nil
}

// Decode parses plaintext produced by the record layer into a Packet.
func Decode(plaintext []byte) (Packet, error) {
	var outer envelope
	if err := bson.Unmarshal(plaintext, &outer); err != nil {
		return Packet{}, verr.Wrap(verr.Serde, err)
	}

	switch outer.Kind {
	case kindAuthenticate:
		var inner authEnvelope
		if err := bson.Unmarshal(outer.Data, &inner); err != nil {
			return Packet{}, verr.Wrap(verr.Serde, err)
		}
		switch inner.Kind {
		case authKindToken:
			var tok Token
			if err := bson.Unmarshal(inner.Data, &tok); err != nil {
				return Packet{}, verr.Wrap(verr.Serde, err)
			}
			return Packet{AuthToken: &tok}, nil
		case authKindOnionAndSig:
			var oas OnionAndSig
			if err := bson.Unmarshal(inner.Data, &oas); err != nil {
				return Packet{}, verr.Wrap(verr.Serde, err)
			}
			return Packet{AuthOnionAndSig: &oas}, nil
		default:
			return Packet{}, verr.New(verr.Serde, fmt.Sprintf("unknown authenticate kind %q", inner.Kind))
		}
	case kindData:
		var inner dataEnvelope
		if err := bson.Unmarshal(outer.Data, &inner); err != nil {
			return Packet{}, verr.Wrap(verr.Serde, err)
		}
		switch inner.Kind {
		case dataKindMessage:
			var m Message
			if err := bson.Unmarshal(inner.Data, &m); err != nil {
				return Packet{}, verr.Wrap(verr.Serde, err)
			}
			return Packet{DataMessage: &m}, nil
		default:
			return Packet{}, verr.New(verr.Serde, fmt.Sprintf("unknown data kind %q", inner.Kind))
		}
	default:
		return Packet{}, verr.New(verr.Serde, fmt.Sprintf("unknown envelope kind %q", outer.Kind))
	}
}

// IsData reports whether p holds a Data(Message) variant.
func (p Packet) IsData() bool { return p.DataMessage != nil }

// IsAuthToken reports whether p holds an Authenticate(Token) variant.
func (p Packet) IsAuthToken() bool { return p.AuthToken != nil }

// IsAuthOnionAndSig reports whether p holds an Authenticate(OnionAndSig) variant.
func (p Packet) IsAuthOnionAndSig() bool { return p.AuthOnionAndSig != nil }
