// Command veil-node runs the node daemon: it loads every configured local
// identity, starts the listener supervisor and the dialer over the
// anonymizing transport's rendezvous sockets, and serves the UI bridge.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veilmesh/veil/internal/bridge"
	"github.com/veilmesh/veil/internal/config"
	"github.com/veilmesh/veil/internal/dialer"
	"github.com/veilmesh/veil/internal/events"
	"github.com/veilmesh/veil/internal/identity"
	"github.com/veilmesh/veil/internal/listener"
	"github.com/veilmesh/veil/internal/table"
)

func main() {
	var configDir, incomingDir, torSocket string

	root := &cobra.Command{
		Use:   "veil-node",
		Short: "Run a veil messaging node",
	}

	root.PersistentFlags().StringVar(&configDir, "config-dir", "data/config", "directory holding addresses.json and bridge.json")
	root.PersistentFlags().StringVar(&incomingDir, "incoming-dir", "data/incoming", "directory holding per-identity hostname/hs_ed25519_secret_key")
	root.PersistentFlags().StringVar(&torSocket, "tor-socket", "data/tor.sock", "unix-socket SOCKS5 rendezvous to the anonymizing transport")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start listeners, dialer, and the UI bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configDir, incomingDir, torSocket)
		},
	}

	dial := &cobra.Command{
		Use:   "dial <peer-onion> <host-name>",
		Short: "Dial a peer from a configured local identity (one-shot, no bridge)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(incomingDir, torSocket, args[0], args[1])
		},
	}

	root.AddCommand(serve, dial)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func loadIdentities(incomingDir, configDir string) ([]*identity.LocalAddress, error) {
	addrs, err := config.LoadAddresses(configDir)
	if err != nil {
		return nil, fmt.Errorf("load addresses.json: %w", err)
	}

	out := make([]*identity.LocalAddress, 0, len(addrs.Addresses))
	for _, entry := range addrs.Addresses {
		la, err := identity.Load(incomingDir, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("load identity %q: %w", entry.Name, err)
		}
		out = append(out, la)
	}
	return out, nil
}

func runServe(configDir, incomingDir, torSocket string) error {
	log := newLogger()

	identities, err := loadIdentities(incomingDir, configDir)
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities configured in %s/addresses.json", configDir)
	}

	bridgeCfg, err := config.LoadBridge(configDir)
	if err != nil {
		return fmt.Errorf("load bridge.json: %w", err)
	}

	tbl := table.New()
	bus := events.NewBus()

	sup := listener.New(incomingDir, identities, tbl, bus, log)

	dialReqs := make(chan dialer.Request, 16)
	d := dialer.New(torSocket, identities, tbl, bus, log)

	br := bridge.New(tbl, bus, dialReqs, identities, log)

	var g errgroup.Group
	g.Go(sup.Run)
	g.Go(func() error {
		d.Serve(dialReqs)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("listen", bridgeCfg.Listen).Msg("serving UI bridge")
		return http.ListenAndServe(bridgeCfg.Listen, br.Router())
	})

	return g.Wait()
}

func runDial(incomingDir, torSocket, peerOnion, hostName string) error {
	log := newLogger()

	local, err := identity.Load(incomingDir, hostName)
	if err != nil {
		return fmt.Errorf("load host identity %q: %w", hostName, err)
	}
	peer, err := identity.DecodeOnion(peerOnion)
	if err != nil {
		return fmt.Errorf("decode peer onion address: %w", err)
	}

	tbl := table.New()
	bus := events.NewBus()
	d := dialer.New(torSocket, []*identity.LocalAddress{local}, tbl, bus, log)

	if err := d.Dial(peer, local.PublicKey); err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	fmt.Println("session established")
	select {}
}
