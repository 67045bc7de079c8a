package execution

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

func unsignedTransfer(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, to).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestKeypairWallet_SignsTransaction(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	w := NewKeypairWallet(key)
	if w.PublicKey() != key.PublicKey().String() {
		t.Fatal("unexpected public key")
	}

	signed, err := w.SignTransaction(context.Background(), unsignedTransfer(t, key.PublicKey()))
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed))
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(tx.Signatures))
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestKeypairWallet_RejectsForeignTransaction(t *testing.T) {
	w := NewKeypairWallet(solana.NewWallet().PrivateKey)
	other := solana.NewWallet().PublicKey()
	_, err := w.SignTransaction(context.Background(), unsignedTransfer(t, other))
	if !errors.Is(err, ErrNotASigner) {
		t.Fatalf("expected ErrNotASigner, got %v", err)
	}
}

func TestKeypairWallet_RejectsGarbage(t *testing.T) {
	w := NewKeypairWallet(solana.NewWallet().PrivateKey)
	if _, err := w.SignTransaction(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoadKeypairFile(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := LoadKeypairFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if w.PublicKey() != key.PublicKey().String() {
		t.Fatal("loaded keypair does not match")
	}

	if _, err := LoadKeypairFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
