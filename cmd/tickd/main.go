package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/robfig/cron/v3"

	"potchain/internal/codec"
	"potchain/internal/config"
	"potchain/internal/state"
)

// tickd sweeps pot cycles on a cron schedule and broadcasts the deadline
// signals the ledger cannot generate on its own: funding close and
// resolution. Payout confirmation stays with the custody operator.
func main() {
	var (
		cfgPath = flag.String("config", "config.yaml", "path to config file")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Relay.SignerID == "" || cfg.Relay.SigningKey == "" {
		_, _ = fmt.Fprintf(os.Stderr, "relay.signer_id and relay.signing_key are required\n")
		os.Exit(1)
	}
	keyBytes, err := base64.StdEncoding.DecodeString(cfg.Relay.SigningKey)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		_, _ = fmt.Fprintf(os.Stderr, "relay.signing_key must be a base64 64-byte ed25519 private key\n")
		os.Exit(1)
	}

	client, err := rpchttp.New(cfg.Relay.RPCAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rpc client: %v\n", err)
		os.Exit(1)
	}

	s := &sweeper{
		client: client,
		signer: cfg.Relay.SignerID,
		priv:   ed25519.PrivateKey(keyBytes),
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(cfg.Relay.SweepCron, s.sweep); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "bad sweep_cron %q: %v\n", cfg.Relay.SweepCron, err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	log.Printf("[INFO] tickd sweeping %s on %q", cfg.Relay.RPCAddr, cfg.Relay.SweepCron)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

type sweeper struct {
	client *rpchttp.HTTP
	signer string
	priv   ed25519.PrivateKey
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().Unix()

	ids, err := s.potIDs(ctx)
	if err != nil {
		log.Printf("[ERROR] list pots: %v", err)
		return
	}
	for _, id := range ids {
		p, err := s.pot(ctx, id)
		if err != nil {
			log.Printf("[ERROR] query pot %d: %v", id, err)
			continue
		}
		if p.Status != state.PotActive {
			continue
		}
		c := p.CurrentCycle()
		if c == nil {
			continue
		}
		switch {
		case c.Phase == state.PhaseFunding && now >= c.FundingDeadline && now < c.BidDeadline:
			s.broadcast(ctx, "cycle/close_funding", codec.CycleCloseFundingTx{PotID: id, CycleID: c.CycleID})
		case (c.Phase == state.PhaseFunding || c.Phase == state.PhaseBidding) && now >= c.BidDeadline:
			s.broadcast(ctx, "cycle/resolve", codec.CycleResolveTx{PotID: id, CycleID: c.CycleID})
		}
	}
}

func (s *sweeper) potIDs(ctx context.Context) ([]uint64, error) {
	res, err := s.client.ABCIQuery(ctx, "/pots", nil)
	if err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("query /pots: %s", res.Response.Log)
	}
	var ids []uint64
	if err := json.Unmarshal(res.Response.Value, &ids); err != nil {
		return nil, fmt.Errorf("decode pot ids: %w", err)
	}
	return ids, nil
}

func (s *sweeper) pot(ctx context.Context, id uint64) (*state.Pot, error) {
	res, err := s.client.ABCIQuery(ctx, "/pot/"+strconv.FormatUint(id, 10), nil)
	if err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("query pot %d: %s", id, res.Response.Log)
	}
	var p state.Pot
	if err := json.Unmarshal(res.Response.Value, &p); err != nil {
		return nil, fmt.Errorf("decode pot %d: %w", id, err)
	}
	return &p, nil
}

func (s *sweeper) broadcast(ctx context.Context, typ string, value any) {
	// UnixNano keeps nonces strictly increasing across restarts without
	// persisting a counter.
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
	tx, err := codec.SignedTx(typ, value, nonce, s.signer, s.priv)
	if err != nil {
		log.Printf("[ERROR] sign %s: %v", typ, err)
		return
	}
	res, err := s.client.BroadcastTxSync(ctx, tx)
	if err != nil {
		log.Printf("[ERROR] broadcast %s: %v", typ, err)
		return
	}
	if res.Code != 0 {
		// TooEarly races against block time are routine here.
		log.Printf("[INFO] %s rejected: %s", typ, res.Log)
		return
	}
	log.Printf("[INFO] %s broadcast", typ)
}
