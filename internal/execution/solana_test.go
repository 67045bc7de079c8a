package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

// rpcServer is a minimal Solana JSON-RPC fake.
type rpcServer struct {
	mu          sync.Mutex
	statuses    []string // confirmationStatus per poll; "" = not found
	txErr       any
	blockHeight uint64
	calls       map[string]int
	sendParams  []any
	signature   solana.Signature
}

func (s *rpcServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}

		s.mu.Lock()
		s.calls[req.Method]++
		n := s.calls[req.Method]
		var result any
		switch req.Method {
		case "getLatestBlockhash":
			result = map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"blockhash":            solana.Hash{}.String(),
					"lastValidBlockHeight": 150,
				},
			}
		case "sendTransaction":
			s.sendParams = req.Params
			result = s.signature.String()
		case "getSignatureStatuses":
			var status any
			if i := n - 1; i < len(s.statuses) && s.statuses[i] != "" {
				status = map[string]any{
					"slot":               1,
					"confirmations":      nil,
					"err":                s.txErr,
					"confirmationStatus": s.statuses[i],
				}
			}
			result = map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   []any{status},
			}
		case "getBlockHeight":
			result = s.blockHeight
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, mustJSON(result))
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func newRPC(t *testing.T, s *rpcServer) *SolanaChain {
	t.Helper()
	s.calls = map[string]int{}
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	return NewSolanaChain(SolanaChainConfig{
		RPCURL:       srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	})
}

func TestSolanaChain_LatestBlockhash(t *testing.T) {
	c := newRPC(t, &rpcServer{})
	bh, err := c.LatestBlockhash(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bh.LastValidBlockHeight != 150 || bh.Blockhash != (solana.Hash{}).String() {
		t.Fatalf("unexpected blockhash %+v", bh)
	}
}

func TestSolanaChain_SendSkipsPreflightWithoutRetries(t *testing.T) {
	s := &rpcServer{signature: solana.Signature{1, 2, 3}}
	c := newRPC(t, s)

	sig, err := c.SendRawTransaction(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if sig != s.signature.String() {
		t.Fatalf("unexpected signature %s", sig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendParams) != 2 {
		t.Fatalf("expected tx and options params, got %v", s.sendParams)
	}
	opts, _ := s.sendParams[1].(map[string]any)
	if opts["skipPreflight"] != true {
		t.Fatalf("expected skipPreflight, got %v", opts)
	}
	if opts["maxRetries"] != float64(0) {
		t.Fatalf("expected maxRetries 0, got %v", opts["maxRetries"])
	}
}

func TestSolanaChain_ConfirmPollsUntilConfirmed(t *testing.T) {
	s := &rpcServer{statuses: []string{"", "processed", "confirmed"}, blockHeight: 10}
	c := newRPC(t, s)

	sig := solana.Signature{9}.String()
	if err := c.ConfirmTransaction(context.Background(), sig, Blockhash{LastValidBlockHeight: 150}); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls["getSignatureStatuses"] != 3 {
		t.Fatalf("expected 3 polls, got %d", s.calls["getSignatureStatuses"])
	}
}

func TestSolanaChain_ConfirmReportsTransactionError(t *testing.T) {
	s := &rpcServer{statuses: []string{"confirmed"}, txErr: map[string]any{"InstructionError": []any{0, "Custom"}}}
	c := newRPC(t, s)
	err := c.ConfirmTransaction(context.Background(), solana.Signature{9}.String(), Blockhash{LastValidBlockHeight: 150})
	if err == nil {
		t.Fatal("expected on-chain failure to surface")
	}
}

func TestSolanaChain_ConfirmStopsAtLastValidBlockHeight(t *testing.T) {
	s := &rpcServer{blockHeight: 151}
	c := newRPC(t, s)
	err := c.ConfirmTransaction(context.Background(), solana.Signature{9}.String(), Blockhash{LastValidBlockHeight: 150})
	if !errors.Is(err, ErrBlockhashExpired) {
		t.Fatalf("expected ErrBlockhashExpired, got %v", err)
	}
}

func TestSolanaChain_ConfirmTimesOut(t *testing.T) {
	s := &rpcServer{blockHeight: 1}
	s.calls = map[string]int{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()
	c := NewSolanaChain(SolanaChainConfig{RPCURL: srv.URL, PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})

	err := c.ConfirmTransaction(context.Background(), solana.Signature{9}.String(), Blockhash{LastValidBlockHeight: 150})
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestSolanaChain_ConfirmRejectsBadSignature(t *testing.T) {
	c := newRPC(t, &rpcServer{})
	if err := c.ConfirmTransaction(context.Background(), "not-base58-!!", Blockhash{}); err == nil {
		t.Fatal("expected invalid signature to fail")
	}
}
