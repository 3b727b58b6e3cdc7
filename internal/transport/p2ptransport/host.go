package p2ptransport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
)

// NewHost builds a bare libp2p host plus a gossipsub router listening on
// listenAddr: no DHT, no mDNS, no connection manager, no persisted
// identity key. Peer addressing for a swap is exchanged out-of-band
// together with the session tag, so this engine never needs peer
// discovery — only a reachable host to join the per-subject topics
// p2ptransport.Transport creates.
func NewHost(ctx context.Context, listenAddr string) (host.Host, *pubsub.PubSub, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate host identity: %w", err)
	}

	ma, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(ma),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("create gossipsub router: %w", err)
	}

	return h, ps, nil
}
