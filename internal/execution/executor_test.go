package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/trust"
)

type fakeWallet struct {
	err   error
	calls atomic.Int32
}

func (w *fakeWallet) PublicKey() string { return "Acct1111111111111111111111111111111111111111" }

func (w *fakeWallet) SignTransaction(_ context.Context, tx []byte) ([]byte, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	return append([]byte("signed:"), tx...), nil
}

type fakeChain struct {
	signature  string
	sendErr    error
	confirmErr error

	mu        sync.Mutex
	sent      [][]byte
	confirmed []string
}

func (c *fakeChain) LatestBlockhash(context.Context) (Blockhash, error) {
	return Blockhash{Blockhash: "11111111111111111111111111111111", LastValidBlockHeight: 100}, nil
}

func (c *fakeChain) SendRawTransaction(_ context.Context, signed []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, signed)
	return c.signature, c.sendErr
}

func (c *fakeChain) ConfirmTransaction(_ context.Context, sig string, bh Blockhash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bh.LastValidBlockHeight == 0 {
		return errors.New("missing block height bound")
	}
	c.confirmed = append(c.confirmed, sig)
	return c.confirmErr
}

// actionServer answers POSTs with status and body and counts them.
func actionServer(t *testing.T, status int, body any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		posts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func staticSnapshot(state trust.ExtendedActionState) SnapshotFunc {
	return func(context.Context) trust.ActionStateWithOrigin {
		return trust.ActionStateWithOrigin{Action: state}
	}
}

func onlyTrusted() trust.NormalizedSecurityLevel { return trust.Uniform(trust.LevelOnlyTrusted) }

func TestExecute_Success(t *testing.T) {
	srv, posts := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID", Message: "Done"})
	wallet := &fakeWallet{}
	chain := &fakeChain{signature: "5sig"}
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())

	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   wallet,
		Chain:    chain,
	})
	st, err := e.Execute(context.Background(), comp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusSuccess || st.SuccessMessage != "Done" {
		t.Fatalf("expected success/Done, got %+v", st)
	}
	if posts.Load() != 1 || wallet.calls.Load() != 1 {
		t.Fatalf("expected one POST and one signature, got %d/%d", posts.Load(), wallet.calls.Load())
	}
	if len(chain.sent) != 1 || string(chain.sent[0]) != "signed:\x01\x02\x03" {
		t.Fatalf("expected decoded and signed transaction to be sent, got %q", chain.sent)
	}
	if len(chain.confirmed) != 1 || chain.confirmed[0] != "5sig" {
		t.Fatalf("expected confirmation of 5sig, got %v", chain.confirmed)
	}
}

func TestExecute_SecurityRecheckBlocksWithoutPost(t *testing.T) {
	srv, posts := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID"})
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())

	// Trusted at render time, flagged before the click.
	var flagged atomic.Bool
	snapshot := func(context.Context) trust.ActionStateWithOrigin {
		if flagged.Load() {
			return trust.ActionStateWithOrigin{Action: trust.StateMalicious}
		}
		return trust.ActionStateWithOrigin{Action: trust.StateTrusted}
	}
	e := NewExecutor(context.Background(), Config{
		Snapshot: snapshot,
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    &fakeChain{signature: "x"},
	})
	if e.State().Status != StatusIdle {
		t.Fatalf("expected idle at start, got %s", e.State().Status)
	}

	flagged.Store(true)
	st, err := e.Execute(context.Background(), comp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %+v", st)
	}
	if posts.Load() != 0 {
		t.Fatal("expected no POST after a failed security check")
	}
}

func TestExecute_SoftErrorReturnsIdleWithMessage(t *testing.T) {
	srv, _ := actionServer(t, http.StatusBadRequest, map[string]string{"message": "Sold out"})
	wallet := &fakeWallet{}
	comp := action.NewComponent(nil, "Mint", srv.URL, nil, srv.Client())

	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   wallet,
		Chain:    &fakeChain{signature: "x"},
	})
	st, err := e.Execute(context.Background(), comp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusIdle || st.ErrorMessage != "Sold out" {
		t.Fatalf("expected idle/Sold out, got %+v", st)
	}
	if wallet.calls.Load() != 0 {
		t.Fatal("expected no signing after a soft error")
	}
}

func TestExecute_NoWalletIsSilentReset(t *testing.T) {
	srv, posts := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID"})
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())

	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
	})
	st, err := e.Execute(context.Background(), comp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusIdle || st.ErrorMessage != "" {
		t.Fatalf("expected idle without error, got %+v", st)
	}
	if posts.Load() != 0 {
		t.Fatal("expected no POST without a wallet")
	}
}

func TestExecute_WritesParamsAndValidatesRequired(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.RequestURI())
		_ = json.NewEncoder(w).Encode(action.PostResponse{Transaction: "AQID"})
	}))
	defer srv.Close()

	comp := action.NewComponent(nil, "Donate", srv.URL+"/donate/{amount}",
		[]action.Parameter{{Name: "amount", Required: true}}, srv.Client())
	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    &fakeChain{signature: "sig"},
	})

	st, _ := e.Execute(context.Background(), comp, nil)
	if st.Status != StatusIdle || st.ErrorMessage == "" {
		t.Fatalf("expected soft reset for missing required parameter, got %+v", st)
	}
	if gotPath.Load() != nil {
		t.Fatal("expected no POST with a missing required parameter")
	}

	st, _ = e.Execute(context.Background(), comp, map[string]string{"amount": "0.5"})
	if st.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", st)
	}
	if gotPath.Load() != "/donate/0.5" {
		t.Fatalf("expected params written into href, got %v", gotPath.Load())
	}
}

func TestExecute_FailuresAfterPost(t *testing.T) {
	cases := map[string]struct {
		tx     string
		wallet *fakeWallet
		chain  *fakeChain
	}{
		"bad base64":   {"%%%", &fakeWallet{}, &fakeChain{signature: "s"}},
		"sign error":   {"AQID", &fakeWallet{err: errors.New("user rejected")}, &fakeChain{signature: "s"}},
		"send error":   {"AQID", &fakeWallet{}, &fakeChain{sendErr: errors.New("rpc down")}},
		"confirm fail": {"AQID", &fakeWallet{}, &fakeChain{signature: "s", confirmErr: ErrConfirmationTimeout}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := actionServer(t, http.StatusOK, action.PostResponse{Transaction: tc.tx})
			comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())
			e := NewExecutor(context.Background(), Config{
				Snapshot: staticSnapshot(trust.StateTrusted),
				Levels:   onlyTrusted,
				Wallet:   tc.wallet,
				Chain:    tc.chain,
			})
			st, err := e.Execute(context.Background(), comp, nil)
			if err != nil {
				t.Fatal(err)
			}
			if st.Status != StatusError || st.ErrorMessage == "" {
				t.Fatalf("expected error state with message, got %+v", st)
			}

			if got := e.Reset(); got.Status != StatusIdle || got.ErrorMessage != "" {
				t.Fatalf("expected reset to idle, got %+v", got)
			}
		})
	}
}

func TestExecute_RequiresResetAfterFinishedAttempt(t *testing.T) {
	cases := map[string]struct {
		chain *fakeChain
		want  Status
	}{
		"after error":   {&fakeChain{sendErr: errors.New("node unhealthy")}, StatusError},
		"after success": {&fakeChain{signature: "s"}, StatusSuccess},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, posts := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID"})
			wallet := &fakeWallet{}
			comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())
			e := NewExecutor(context.Background(), Config{
				Snapshot: staticSnapshot(trust.StateTrusted),
				Levels:   onlyTrusted,
				Wallet:   wallet,
				Chain:    tc.chain,
			})

			st, err := e.Execute(context.Background(), comp, nil)
			if err != nil || st.Status != tc.want {
				t.Fatalf("expected %s, got %+v (err %v)", tc.want, st, err)
			}

			st, err = e.Execute(context.Background(), comp, nil)
			if !errors.Is(err, ErrNotIdle) {
				t.Fatalf("expected ErrNotIdle, got %v", err)
			}
			if st.Status != tc.want {
				t.Fatalf("expected state to stay %s, got %+v", tc.want, st)
			}
			if posts.Load() != 1 || len(tc.chain.sent) != 1 || wallet.calls.Load() != 1 {
				t.Fatalf("expected no second POST or submission, got posts=%d sends=%d signs=%d",
					posts.Load(), len(tc.chain.sent), wallet.calls.Load())
			}

			e.Reset()
			if _, err := e.Execute(context.Background(), comp, nil); err != nil {
				t.Fatalf("expected retry after Reset, got %v", err)
			}
			if posts.Load() != 2 {
				t.Fatalf("expected a second POST after Reset, got %d", posts.Load())
			}
		})
	}
}

func TestExecute_EmptySignatureResets(t *testing.T) {
	srv, _ := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID"})
	chain := &fakeChain{signature: ""}
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())
	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    chain,
	})
	st, _ := e.Execute(context.Background(), comp, nil)
	if st.Status != StatusIdle {
		t.Fatalf("expected idle, got %+v", st)
	}
	if len(chain.confirmed) != 0 {
		t.Fatal("expected no confirmation without a signature")
	}
}

func TestExecute_RejectsConcurrentExecution(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(action.PostResponse{Transaction: "AQID"})
	}))
	defer srv.Close()

	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())
	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    &fakeChain{signature: "s"},
	})

	done := make(chan State)
	go func() {
		st, _ := e.Execute(context.Background(), comp, nil)
		done <- st
	}()

	deadline := time.Now().Add(2 * time.Second)
	for e.State().Status != StatusExecuting && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := e.Execute(context.Background(), comp, nil); !errors.Is(err, ErrExecutionInFlight) {
		t.Fatalf("expected ErrExecutionInFlight, got %v", err)
	}
	if e.Reset().Status != StatusExecuting {
		t.Fatal("expected reset to be ignored while executing")
	}

	close(release)
	if st := <-done; st.Status != StatusSuccess {
		t.Fatalf("expected first execution to succeed, got %+v", st)
	}
}

func TestNewExecutor_StartsBlocked(t *testing.T) {
	cases := map[string]struct {
		state  trust.ExtendedActionState
		levels trust.NormalizedSecurityLevel
	}{
		"unknown under only-trusted": {trust.StateUnknown, trust.Uniform(trust.LevelOnlyTrusted)},
		"malicious under all":        {trust.StateMalicious, trust.Uniform(trust.LevelAll)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			levels := tc.levels
			e := NewExecutor(context.Background(), Config{
				Snapshot: staticSnapshot(tc.state),
				Levels:   func() trust.NormalizedSecurityLevel { return levels },
			})
			if e.State().Status != StatusBlocked {
				t.Fatalf("expected blocked, got %s", e.State().Status)
			}
			comp := action.NewComponent(nil, "Go", "https://a.example", nil, nil)
			if _, err := e.Execute(context.Background(), comp, nil); !errors.Is(err, ErrBlocked) {
				t.Fatalf("expected ErrBlocked, got %v", err)
			}
			if e.Reset().Status != StatusBlocked {
				t.Fatal("expected reset not to clear a block")
			}
			if e.Unblock().Status != StatusIdle {
				t.Fatal("expected unblock to return to idle")
			}
		})
	}
}

func TestExecute_UnblockedMaliciousStillRechecks(t *testing.T) {
	srv, posts := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID", Message: "ok"})
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())
	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateMalicious),
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    &fakeChain{signature: "s"},
	})
	e.Unblock()
	st, err := e.Execute(context.Background(), comp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusBlocked || posts.Load() != 0 {
		t.Fatalf("expected re-check to block again, got %+v", st)
	}
}

func TestSubscribeAndDetach(t *testing.T) {
	srv, _ := actionServer(t, http.StatusOK, action.PostResponse{Transaction: "AQID", Message: "Done"})
	comp := action.NewComponent(nil, "Go", srv.URL, nil, srv.Client())

	var transitions []string
	var mu sync.Mutex
	e := NewExecutor(context.Background(), Config{
		Snapshot: staticSnapshot(trust.StateTrusted),
		Levels:   onlyTrusted,
		Wallet:   &fakeWallet{},
		Chain:    &fakeChain{signature: "s"},
		OnTransition: func(from, to State, ev Event) {
			mu.Lock()
			transitions = append(transitions, ev.Name())
			mu.Unlock()
		},
	})
	ch := e.Subscribe()

	if _, err := e.Execute(context.Background(), comp, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case st := <-ch:
		if st.Status != StatusSuccess {
			t.Fatalf("expected latest state success, got %s", st.Status)
		}
	default:
		t.Fatal("expected a published state")
	}

	mu.Lock()
	got := append([]string(nil), transitions...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "INITIATE" || got[1] != "FINISH" {
		t.Fatalf("unexpected transitions %v", got)
	}

	e.Detach()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after detach")
	}
	e.Reset()
	if e.State().Status != StatusIdle {
		t.Fatal("expected state to keep advancing after detach")
	}
	if _, ok := <-e.Subscribe(); ok {
		t.Fatal("expected subscription after detach to be closed")
	}
}
