package execution

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrNotASigner is returned when the wallet key is not a required signer of
// the transaction.
var ErrNotASigner = errors.New("wallet is not a required signer of the transaction")

// KeypairWallet signs with a local ed25519 keypair.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet wraps a private key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// LoadKeypairFile reads a solana-keygen JSON keypair file.
func LoadKeypairFile(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewKeypairWallet(key), nil
}

func (w *KeypairWallet) PublicKey() string {
	return w.key.PublicKey().String()
}

// SignTransaction adds this wallet's signature to a serialized legacy or
// versioned transaction. Other signatures are kept as sent.
func (w *KeypairWallet) SignTransaction(_ context.Context, raw []byte) ([]byte, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	pub := w.key.PublicKey()
	required := int(tx.Message.Header.NumRequiredSignatures)
	idx := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotASigner
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	sig, err := w.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[idx] = sig

	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return out, nil
}
