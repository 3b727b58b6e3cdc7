// Package main provides swapengine, a CLI that runs one side of an atomic
// swap (Maker or Taker) to completion, or both sides in-process against an
// in-memory transport and chain backend for demonstration.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/internal/chainbtc"
	"github.com/stjordanis/atomicswap-core/internal/status"
	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
	"github.com/stjordanis/atomicswap-core/internal/swapcore"
	"github.com/stjordanis/atomicswap-core/internal/transport/memtransport"
	"github.com/stjordanis/atomicswap-core/internal/transport/p2ptransport"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		mode         = flag.String("mode", "demo", "Run mode: maker, taker, or demo (both roles in one process)")
		configFile   = flag.String("config", "", "YAML config file path (defaults built in if empty)")
		session      = flag.String("session", "", "Swap session tag, agreed out-of-band (required for maker/taker)")
		peerHex      = flag.String("peer", "", "Counterparty identity, 32-byte hex (required for maker/taker)")
		listenAddr   = flag.String("listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr (maker/taker mode)")
		makerAmount  = flag.Uint64("maker-amount", 100000, "Maker's swap amount, minor units")
		takerAmount  = flag.Uint64("taker-amount", 77700, "Taker's swap amount, minor units")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapengine %s (commit: %s)", version, commit)
		return
	}

	cfg := swapconfig.Default()
	if *configFile != "" {
		loaded, err := swapconfig.Load(*configFile)
		if err != nil {
			log.Fatal("load config", "error", err)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	switch *mode {
	case "demo":
		runDemo(ctx, cfg, *makerAmount, *takerAmount)
	case "maker", "taker":
		if *session == "" || *peerHex == "" {
			log.Fatal("maker/taker mode requires -session and -peer")
		}
		peer, err := decodePeerID(*peerHex)
		if err != nil {
			log.Fatal("invalid -peer", "error", err)
		}
		runNetworked(ctx, cfg, *mode, *session, peer, *listenAddr, *makerAmount, *takerAmount)
	default:
		log.Fatal("unknown -mode", "mode", *mode)
	}
}

func decodePeerID(s string) (swapcore.PeerID, error) {
	var id swapcore.PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func randomPeerID() swapcore.PeerID {
	var id swapcore.PeerID
	_, _ = rand.Read(id[:])
	return id
}

func feeAddrFromConfig(cfg *swapconfig.Config) chainadapter.CompressedPubKey {
	var pub chainadapter.CompressedPubKey
	b, err := hex.DecodeString(cfg.FeeAddressPubKeyHex)
	if err != nil || len(b) != len(pub) {
		logging.GetDefault().Fatal("invalid fee_address_pubkey in config")
	}
	copy(pub[:], b)
	return pub
}

// runDemo runs both the Maker and the Taker in one process against a shared
// in-memory transport (memtransport) and a shared in-memory chain backend
// (chainbtc.MemBackend), demonstrating the full happy-path protocol without
// any real network or node connection.
func runDemo(ctx context.Context, cfg *swapconfig.Config, makerAmount, takerAmount uint64) {
	log := logging.GetDefault()
	feeAddr := feeAddrFromConfig(cfg)

	hub := memtransport.NewHub()
	makerID, takerID := randomPeerID(), randomPeerID()
	session := fmt.Sprintf("demo-%d", time.Now().UnixNano())

	makerMessenger := swapcore.NewMessenger(hub.Transport(makerID), session)
	takerMessenger := swapcore.NewMessenger(hub.Transport(takerID), session)

	backend := chainbtc.NewMemBackend()
	chain := chainbtc.New(&chaincfg.RegressionNetParams, backend)
	confirmEverything(ctx, backend)

	makerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleMaker, MyIdentity: makerID, PeerIdentity: takerID,
		MakerAmount: makerAmount, TakerAmount: takerAmount, FeeAddrPub: feeAddr,
	})
	if err != nil {
		log.Fatal("build maker context", "error", err)
	}
	takerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleTaker, MyIdentity: takerID, PeerIdentity: makerID,
		MakerAmount: makerAmount, TakerAmount: takerAmount, FeeAddrPub: feeAddr,
	})
	if err != nil {
		log.Fatal("build taker context", "error", err)
	}
	// The Taker's clock must agree with the Maker's to within the 60s skew
	// bound; in a single process they are identical already.
	takerCtx.StartedAt = makerCtx.StartedAt

	maker := swapcore.NewMaker(chain, makerMessenger, status.NewHandle(), cfg, takerID)
	taker := swapcore.NewTaker(chain, takerMessenger, status.NewHandle(), cfg, makerID)

	type result struct {
		role  string
		state fmt.Stringer
		err   error
	}
	done := make(chan result, 2)
	go func() {
		state, err := maker.Run(ctx, makerCtx)
		done <- result{role: "maker", state: stateString(string(state)), err: err}
	}()
	go func() {
		state, err := taker.Run(ctx, takerCtx)
		done <- result{role: "taker", state: stateString(string(state)), err: err}
	}()

	for i := 0; i < 2; i++ {
		r := <-done
		if r.err != nil {
			log.Error("swap finished with error", "role", r.role, "state", r.state, "error", r.err)
		} else {
			log.Info("swap finished", "role", r.role, "state", r.state)
		}
	}
}

// confirmEverything runs a tight background loop advancing every
// broadcast transaction's confirmation count, so WaitForConfirmations calls
// in the demo resolve promptly instead of idling for the full 1000s budget.
func confirmEverything(ctx context.Context, backend *chainbtc.MemBackend) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.ConfirmAllKnown()
			}
		}
	}()
}

type stateString string

func (s stateString) String() string { return string(s) }

// runNetworked runs a single role (maker or taker) over libp2p pubsub
// against a counterparty running the same binary elsewhere.
func runNetworked(ctx context.Context, cfg *swapconfig.Config, role, session string, peer swapcore.PeerID, listenAddr string, makerAmount, takerAmount uint64) {
	log := logging.GetDefault()
	feeAddr := feeAddrFromConfig(cfg)

	host, ps, err := p2ptransport.NewHost(ctx, listenAddr)
	if err != nil {
		log.Fatal("start libp2p host", "error", err)
	}
	defer host.Close()
	log.Info("listening", "peer_id", host.ID().String(), "addrs", host.Addrs())

	transport := p2ptransport.New(host, ps)
	messenger := swapcore.NewMessenger(transport, session)

	backend := chainbtc.NewMemBackend()
	chain := chainbtc.New(&chaincfg.RegressionNetParams, backend)
	confirmEverything(ctx, backend)

	myID := randomPeerID()
	swapRole := swapcore.RoleTaker
	if role == "maker" {
		swapRole = swapcore.RoleMaker
	}
	swapCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapRole, MyIdentity: myID, PeerIdentity: peer,
		MakerAmount: makerAmount, TakerAmount: takerAmount, FeeAddrPub: feeAddr,
	})
	if err != nil {
		log.Fatal("build swap context", "error", err)
	}

	var state fmt.Stringer
	var runErr error
	if role == "maker" {
		maker := swapcore.NewMaker(chain, messenger, status.NewHandle(), cfg, peer)
		s, e := maker.Run(ctx, swapCtx)
		state, runErr = stateString(string(s)), e
	} else {
		taker := swapcore.NewTaker(chain, messenger, status.NewHandle(), cfg, peer)
		s, e := taker.Run(ctx, swapCtx)
		state, runErr = stateString(string(s)), e
	}

	if runErr != nil {
		log.Error("swap finished with error", "state", state, "error", runErr)
		os.Exit(1)
	}
	log.Info("swap finished", "state", state)
}
