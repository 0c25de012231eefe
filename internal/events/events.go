// Package events implements the client-facing event bus: a broadcast of
// lifecycle and data events that the UI bridge subscribes to. Delivery is
// best-effort per subscriber — a slow subscriber misses events rather than
// stalling a session, a deliberate deviation from the original Rust
// source's blocking broadcast send (see design notes).
package events

// Event is the discriminated union of client-facing events. Exactly one
// field is populated, matching which constructor built it.
type Event struct {
	ConnectionEstablished *ConnectionEstablished
	Disconnected          *Disconnected
	DataReceived          *DataReceived
	SendDataConfirmation  *SendDataConfirmation
}

type ConnectionEstablished struct {
	Peer [32]byte
	Host [32]byte
}

type Disconnected struct {
	Peer [32]byte
	Host [32]byte
}

type DataReceived struct {
	Peer [32]byte
	Host [32]byte
	Data string
}

type SendDataConfirmation struct {
	Token [12]byte
}

func NewConnectionEstablished(peer, host [32]byte) Event {
	return Event{ConnectionEstablished: &ConnectionEstablished{Peer: peer, Host: host}}
}

func NewDisconnected(peer, host [32]byte) Event {
	return Event{Disconnected: &Disconnected{Peer: peer, Host: host}}
}

func NewDataReceived(peer, host [32]byte, data string) Event {
	return Event{DataReceived: &DataReceived{Peer: peer, Host: host, Data: data}}
}

func NewSendDataConfirmation(token [12]byte) Event {
	return Event{SendDataConfirmation: &SendDataConfirmation{Token: token}}
}
