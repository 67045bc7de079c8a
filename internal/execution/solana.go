package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// DefaultConfirmTimeout bounds confirmation polling.
	DefaultConfirmTimeout = 60 * time.Second
	// DefaultPollInterval is the delay between signature status polls.
	DefaultPollInterval = 3 * time.Second
)

var (
	ErrConfirmationTimeout = errors.New("transaction was not confirmed in time")
	ErrBlockhashExpired    = errors.New("transaction expired: block height exceeded")
)

// SolanaChainConfig configures a SolanaChain.
type SolanaChainConfig struct {
	RPCURL       string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *zap.Logger
}

// SolanaChain implements Chain over Solana JSON-RPC.
type SolanaChain struct {
	rpc          *rpc.Client
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewSolanaChain creates a JSON-RPC backed Chain.
func NewSolanaChain(cfg SolanaChainConfig) *SolanaChain {
	c := &SolanaChain{
		rpc:          rpc.New(cfg.RPCURL),
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.timeout <= 0 {
		c.timeout = DefaultConfirmTimeout
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *SolanaChain) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: empty response")
	}
	return Blockhash{
		Blockhash:            out.Value.Blockhash.String(),
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *SolanaChain) SendRawTransaction(ctx context.Context, signed []byte) (string, error) {
	var maxRetries uint
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, signed, rpc.TransactionOpts{
		SkipPreflight: true,
		MaxRetries:    &maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	if sig == (solana.Signature{}) {
		return "", nil
	}
	return sig.String(), nil
}

func (c *SolanaChain) ConfirmTransaction(ctx context.Context, signature string, bh Blockhash) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("confirmTransaction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		done, err := c.poll(ctx, sig, bh)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrConfirmationTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll checks the signature status once, then the block height bound.
func (c *SolanaChain) poll(ctx context.Context, sig solana.Signature, bh Blockhash) (bool, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		c.logger.Debug("signature status poll failed", zap.String("signature", sig.String()), zap.Error(err))
	} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
		st := out.Value[0]
		if st.Err != nil {
			return true, fmt.Errorf("transaction failed: %v", st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return true, nil
		}
	}

	if bh.LastValidBlockHeight == 0 {
		return false, nil
	}
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return false, nil
	}
	if height > bh.LastValidBlockHeight {
		return true, ErrBlockhashExpired
	}
	return false, nil
}
