// Command veil-console is a terminal client for a running veil node: it
// drives the node's UI bridge over HTTP and websocket, rendering events and
// accepting commands through a tcell screen instead of the bare
// bufio-over-stdin REPL an earlier console used.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/veilmesh/veil/internal/identity"
)

func main() {
	var bridgeAddr, hostOnion string

	cmd := &cobra.Command{
		Use:   "veil-console",
		Short: "Terminal client for a veil node's UI bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(bridgeAddr, hostOnion)
		},
	}
	cmd.Flags().StringVar(&bridgeAddr, "bridge", "127.0.0.1:8080", "host:port of the node's UI bridge")
	cmd.Flags().StringVar(&hostOnion, "host", "", "onion address of the local identity to act as (required)")
	cmd.MarkFlagRequired("host")

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
	}
}

func run(bridgeAddr, hostOnion string) error {
	if _, err := identity.DecodeOnion(hostOnion); err != nil {
		return fmt.Errorf("--host is not a valid onion address: %w", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("new screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	ui := newConsoleUI(screen, bridgeAddr, hostOnion)
	ui.appendLog(fmt.Sprintf("connected as %s via bridge %s", hostOnion, bridgeAddr))
	ui.appendLog("commands: /connect <peer-onion> | <peer-onion> <message> | /peers | /quit")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+bridgeAddr+"/ws", nil)
	if err != nil {
		return fmt.Errorf("dial bridge websocket: %w", err)
	}
	defer conn.Close()

	go ui.readEvents(conn)

	return ui.eventLoop(conn)
}

type consoleUI struct {
	screen     tcell.Screen
	bridgeAddr string
	hostOnion  string

	mu    sync.Mutex
	log   []string
	input []rune
	known map[string]bool
}

func newConsoleUI(screen tcell.Screen, bridgeAddr, hostOnion string) *consoleUI {
	return &consoleUI{
		screen:     screen,
		bridgeAddr: bridgeAddr,
		hostOnion:  hostOnion,
		known:      make(map[string]bool),
	}
}

func (ui *consoleUI) appendLog(line string) {
	ui.mu.Lock()
	ui.log = append(ui.log, line)
	if len(ui.log) > 500 {
		ui.log = ui.log[len(ui.log)-500:]
	}
	ui.mu.Unlock()
	ui.draw()
}

func (ui *consoleUI) draw() {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	ui.screen.Clear()
	w, h := ui.screen.Size()

	start := 0
	visible := h - 2
	if len(ui.log) > visible {
		start = len(ui.log) - visible
	}
	row := 0
	for _, line := range ui.log[start:] {
		drawText(ui.screen, 0, row, w, tcell.StyleDefault, line)
		row++
	}

	sep := strings.Repeat("-", w)
	drawText(ui.screen, 0, h-2, w, tcell.StyleDefault, sep)
	drawText(ui.screen, 0, h-1, w, tcell.StyleDefault, "> "+string(ui.input))

	ui.screen.Show()
}

func drawText(s tcell.Screen, x, y, maxWidth int, style tcell.Style, text string) {
	col := x
	for _, r := range text {
		if col >= maxWidth {
			return
		}
		s.SetContent(col, y, r, nil, style)
		col++
	}
}

func (ui *consoleUI) eventLoop(conn *websocket.Conn) error {
	for {
		ev := ui.screen.PollEvent()
		switch tev := ev.(type) {
		case *tcell.EventResize:
			ui.screen.Sync()
			ui.draw()
		case *tcell.EventKey:
			switch tev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return nil
			case tcell.KeyEnter:
				line := strings.TrimSpace(string(ui.input))
				ui.mu.Lock()
				ui.input = nil
				ui.mu.Unlock()
				if line == "" {
					ui.draw()
					continue
				}
				if !ui.handleCommand(line, conn) {
					return nil
				}
			case tcell.KeyBackspace, tcell.KeyBackspace2:
				ui.mu.Lock()
				if len(ui.input) > 0 {
					ui.input = ui.input[:len(ui.input)-1]
				}
				ui.mu.Unlock()
				ui.draw()
			case tcell.KeyRune:
				ui.mu.Lock()
				ui.input = append(ui.input, tev.Rune())
				ui.mu.Unlock()
				ui.draw()
			}
		}
	}
}

// handleCommand processes one submitted input line; it returns false when
// the console should exit.
func (ui *consoleUI) handleCommand(line string, conn *websocket.Conn) bool {
	switch {
	case line == "/quit" || line == "/exit":
		return false

	case line == "/peers":
		ui.mu.Lock()
		peers := make([]string, 0, len(ui.known))
		for onion := range ui.known {
			peers = append(peers, onion)
		}
		ui.mu.Unlock()
		for _, onion := range peers {
			ui.appendLog("- " + onion)
		}
		return true

	case strings.HasPrefix(line, "/connect "):
		peerOnion := strings.TrimSpace(strings.TrimPrefix(line, "/connect "))
		ui.doConnect(peerOnion)
		return true

	default:
		peerOnion, msg, ok := splitFirstWord(line)
		if !ok {
			ui.appendLog("usage: <peer-onion> <message>")
			return true
		}
		ui.doSendData(conn, peerOnion, msg)
		return true
	}
}

func splitFirstWord(s string) (first, rest string, ok bool) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSpace(parts[1]), true
}

type connectRequestBody struct {
	PeerPublicKey string `json:"peer_public_key"`
	HostPublicKey string `json:"host_public_key"`
}

type errorResponseBody struct {
	ErrorKind string `json:"error_kind"`
}

func (ui *consoleUI) doConnect(peerOnion string) {
	peerB64, err := onionToBase64(peerOnion)
	if err != nil {
		ui.appendLog(fmt.Sprintf("bad peer address: %v", err))
		return
	}
	hostB64, err := onionToBase64(ui.hostOnion)
	if err != nil {
		ui.appendLog(fmt.Sprintf("bad local address: %v", err))
		return
	}

	body, _ := json.Marshal(connectRequestBody{PeerPublicKey: peerB64, HostPublicKey: hostB64})
	resp, err := http.Post("http://"+ui.bridgeAddr+"/connect", "application/json", bytes.NewReader(body))
	if err != nil {
		ui.appendLog(fmt.Sprintf("connect request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorResponseBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		ui.appendLog(fmt.Sprintf("connect failed: %s", eb.ErrorKind))
		return
	}

	ui.mu.Lock()
	ui.known[peerOnion] = true
	ui.mu.Unlock()
	ui.appendLog(fmt.Sprintf("connecting to %s...", peerOnion))
}

type wsClientMessage struct {
	Type          string `json:"type"`
	Token         string `json:"token,omitempty"`
	PeerPublicKey string `json:"peer_public_key,omitempty"`
	HostPublicKey string `json:"host_public_key,omitempty"`
	Data          string `json:"data,omitempty"`
}

func (ui *consoleUI) doSendData(conn *websocket.Conn, peerOnion, msg string) {
	peerB64, err := onionToBase64(peerOnion)
	if err != nil {
		ui.appendLog(fmt.Sprintf("bad peer address: %v", err))
		return
	}
	hostB64, err := onionToBase64(ui.hostOnion)
	if err != nil {
		ui.appendLog(fmt.Sprintf("bad local address: %v", err))
		return
	}

	token := make([]byte, 12)
	if _, err := rand.Read(token); err != nil {
		ui.appendLog(fmt.Sprintf("token generation failed: %v", err))
		return
	}

	out := wsClientMessage{
		Type:          "send_data",
		Token:         base64.StdEncoding.EncodeToString(token),
		PeerPublicKey: peerB64,
		HostPublicKey: hostB64,
		Data:          msg,
	}
	if err := conn.WriteJSON(out); err != nil {
		ui.appendLog(fmt.Sprintf("send failed: %v", err))
		return
	}
	ui.appendLog(fmt.Sprintf("[you -> %s] %s", peerOnion, msg))
}

type wsServerMessage struct {
	Type               string              `json:"type"`
	Peer               string              `json:"peer,omitempty"`
	Host               string              `json:"host,omitempty"`
	Data               string              `json:"data,omitempty"`
	Token              string              `json:"token,omitempty"`
	ErrorKind          string              `json:"error_kind,omitempty"`
	ConnectedHostPeers map[string][]string `json:"connected,omitempty"`
}

func (ui *consoleUI) readEvents(conn *websocket.Conn) {
	for {
		var msg wsServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			ui.appendLog(fmt.Sprintf("bridge connection closed: %v", err))
			return
		}

		switch msg.Type {
		case "initialize":
			for host, peers := range msg.ConnectedHostPeers {
				if host != ui.hostOnion {
					continue
				}
				ui.mu.Lock()
				for _, p := range peers {
					ui.known[p] = true
				}
				ui.mu.Unlock()
			}
			ui.appendLog("bridge state synced")

		case "connection_established":
			ui.mu.Lock()
			ui.known[msg.Peer] = true
			ui.mu.Unlock()
			ui.appendLog(fmt.Sprintf("[%s] connected", msg.Peer))

		case "disconnected":
			ui.mu.Lock()
			delete(ui.known, msg.Peer)
			ui.mu.Unlock()
			ui.appendLog(fmt.Sprintf("[%s] disconnected", msg.Peer))

		case "data_received":
			ui.appendLog(fmt.Sprintf("[%s] %s", msg.Peer, msg.Data))

		case "send_data_confirmation":
			ui.appendLog("[delivered]")

		case "error":
			ui.appendLog(fmt.Sprintf("error: %s", msg.ErrorKind))
		}
	}
}

func onionToBase64(onion string) (string, error) {
	pk, err := identity.DecodeOnion(onion)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pk.Bytes()), nil
}
