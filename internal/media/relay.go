package media

import (
	"fmt"
	"log"
	"net"

	"github.com/pion/logging"
	"github.com/pion/turn/v3"
)

// RelayConfig configures the embedded TURN relay.
type RelayConfig struct {
	Port      int    // UDP port to listen on, e.g. 3478
	Realm     string // TURN realm, must match the Issuer's
	Secret    string // shared secret, must match the Issuer's
	PublicIP  string // public address advertised for relayed candidates
	ListenIP  string // local bind address, defaults to 0.0.0.0
}

// Relay is an embedded TURN server for deployments without external media
// infrastructure. It validates the TURN REST credentials the Issuer mints,
// using the same shared secret.
type Relay struct {
	server *turn.Server
}

// StartRelay opens a UDP listener and starts the TURN server on it.
func StartRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}

	listenIP := cfg.ListenIP
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}

	publicIP := net.ParseIP(cfg.PublicIP)
	if publicIP == nil {
		return nil, fmt.Errorf("media: invalid relay public IP %q", cfg.PublicIP)
	}

	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", listenIP, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("media: relay udp listener: %w", err)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	server, err := turn.NewServer(turn.ServerConfig{
		Realm:         cfg.Realm,
		LoggerFactory: loggerFactory,
		AuthHandler:   turn.NewLongTermAuthHandler(cfg.Secret, loggerFactory.NewLogger("turn-auth")),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: publicIP,
					Address:      listenIP,
				},
			},
		},
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, fmt.Errorf("media: start relay: %w", err)
	}

	log.Printf("media: TURN relay listening on %s:%d (relay addr %s)", listenIP, cfg.Port, publicIP)
	return &Relay{server: server}, nil
}

// Close shuts down the relay and its listener.
func (r *Relay) Close() error {
	return r.server.Close()
}
