package execution

import "context"

// Blockhash is a recent blockhash and the last block height at which a
// transaction built on it can still land.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// Chain submits signed transactions and waits for confirmation.
type Chain interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	// SendRawTransaction submits without preflight and without automatic
	// retries. An empty signature means nothing was submitted.
	SendRawTransaction(ctx context.Context, signed []byte) (string, error)
	// ConfirmTransaction blocks until signature reaches confirmed
	// commitment, fails, or outlives bh.
	ConfirmTransaction(ctx context.Context, signature string, bh Blockhash) error
}

// Wallet is an opaque signing capability.
type Wallet interface {
	// PublicKey is the base58 account sent to the action server.
	PublicKey() string
	// SignTransaction signs a serialized transaction and returns it
	// serialized again.
	SignTransaction(ctx context.Context, tx []byte) ([]byte, error)
}
