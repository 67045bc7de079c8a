package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
)

var (
	// ErrExecutionInFlight is returned by Execute while another execution of
	// the same executor has not finished.
	ErrExecutionInFlight = errors.New("execution already in flight")
	// ErrBlocked is returned by Execute while the executor is blocked.
	ErrBlocked = errors.New("execution blocked by security policy")
	// ErrNotIdle is returned by Execute after a finished or failed attempt
	// until Reset is called.
	ErrNotIdle = errors.New("execution finished, reset before retrying")
	// ErrWalletNotConnected reports an execution that reset because no wallet
	// was configured.
	ErrWalletNotConnected = errors.New("no wallet connected")
)

const fallbackErrorMessage = "Unknown error"

// SnapshotFunc returns the current trust snapshot of the action being
// executed. It is called before every execution.
type SnapshotFunc func(ctx context.Context) trust.ActionStateWithOrigin

// TransitionFunc observes every dispatched event.
type TransitionFunc func(from, to State, ev Event)

// Config configures an Executor.
type Config struct {
	Snapshot SnapshotFunc
	// Levels returns the caller's thresholds; read before every execution.
	Levels func() trust.NormalizedSecurityLevel
	// Wallet may be nil when no wallet is connected.
	Wallet       Wallet
	Chain        Chain
	Logger       *zap.Logger
	OnTransition TransitionFunc
}

// Executor owns the execution state of one rendered action.
type Executor struct {
	snapshot     SnapshotFunc
	levels       func() trust.NormalizedSecurityLevel
	wallet       Wallet
	chain        Chain
	logger       *zap.Logger
	onTransition TransitionFunc

	mu       sync.Mutex
	state    State
	inFlight bool
	subs     []chan State
	detached bool
}

// NewExecutor creates an executor. It starts blocked when the current
// snapshot fails the security check or is classified malicious.
func NewExecutor(ctx context.Context, cfg Config) *Executor {
	e := &Executor{
		snapshot:     cfg.Snapshot,
		levels:       cfg.Levels,
		wallet:       cfg.Wallet,
		chain:        cfg.Chain,
		logger:       cfg.Logger,
		onTransition: cfg.OnTransition,
	}
	if e.levels == nil {
		e.levels = trust.DefaultNormalizedSecurityLevel
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	snap := e.currentSnapshot(ctx)
	e.state = State{Status: StatusIdle}
	if !trust.CheckSecurityFromActionState(snap, e.levels()) || trust.Classify(snap) == trust.StateMalicious {
		e.state = State{Status: StatusBlocked}
	}
	return e
}

// State returns the current state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe returns a channel receiving every new state. Slow readers only
// see the latest state. The channel is closed by Detach.
func (e *Executor) Subscribe() <-chan State {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan State, 1)
	if e.detached {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

// Detach stops delivering states to subscribers. In-flight network calls
// are not cancelled and the executor state keeps advancing.
func (e *Executor) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return
	}
	e.detached = true
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

// Unblock overrides a security block. It is a no-op unless blocked.
func (e *Executor) Unblock() State {
	if e.State().Status != StatusBlocked {
		return e.State()
	}
	return e.dispatch(Unblock{})
}

// Reset returns a finished or failed execution to idle. It is a no-op while
// executing or blocked.
func (e *Executor) Reset() State {
	switch e.State().Status {
	case StatusExecuting, StatusBlocked:
		return e.State()
	}
	return e.dispatch(Reset{})
}

// Execute runs component with params and returns the final state. Every
// outcome is reported through the state; the error is only set when the
// execution could not start. A success or error state must be cleared with
// Reset first.
func (e *Executor) Execute(ctx context.Context, component *action.Component, params map[string]string) (State, error) {
	e.mu.Lock()
	if e.inFlight {
		st := e.state
		e.mu.Unlock()
		return st, ErrExecutionInFlight
	}
	if e.state.Status == StatusBlocked {
		st := e.state
		e.mu.Unlock()
		return st, ErrBlocked
	}
	if e.state.Status == StatusError || e.state.Status == StatusSuccess {
		st := e.state
		e.mu.Unlock()
		return st, ErrNotIdle
	}
	e.inFlight = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	for name, value := range params {
		component.SetValue(value, name)
	}

	if !e.passesSecurity(ctx) {
		return e.dispatch(Block{}), nil
	}

	e.dispatch(Initiate{Component: component})

	if e.wallet == nil {
		return e.dispatch(Reset{}), nil
	}

	if err := component.Validate(); err != nil {
		return e.dispatch(SoftReset{Message: err.Error()}), nil
	}

	resp, err := component.Post(ctx, e.wallet.PublicKey())
	if err != nil {
		e.logger.Info("transaction request rejected",
			zap.String("href", component.Href()),
			zap.Bool("soft", action.IsPostRequestError(err)),
			zap.Error(err),
		)
		return e.dispatch(SoftReset{Message: postErrorMessage(err)}), nil
	}

	signature, err := e.signAndSend(ctx, resp.Transaction)
	if err != nil {
		return e.fail(err), nil
	}
	if signature == "" {
		return e.dispatch(Reset{}), nil
	}

	bh, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		return e.fail(err), nil
	}
	if err := e.chain.ConfirmTransaction(ctx, signature, bh); err != nil {
		return e.fail(err), nil
	}

	e.logger.Info("transaction confirmed", zap.String("signature", signature))
	return e.dispatch(Finish{Message: resp.Message}), nil
}

func (e *Executor) signAndSend(ctx context.Context, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	signed, err := e.wallet.SignTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	if e.chain == nil {
		return "", errors.New("no chain client configured")
	}
	return e.chain.SendRawTransaction(ctx, signed)
}

func (e *Executor) fail(err error) State {
	msg := err.Error()
	if msg == "" {
		msg = fallbackErrorMessage
	}
	e.logger.Warn("execution failed", zap.Error(err))
	return e.dispatch(Fail{Message: msg})
}

func (e *Executor) currentSnapshot(ctx context.Context) trust.ActionStateWithOrigin {
	if e.snapshot == nil {
		return trust.ActionStateWithOrigin{Action: trust.StateUnknown}
	}
	return e.snapshot(ctx)
}

func (e *Executor) passesSecurity(ctx context.Context) bool {
	return trust.CheckSecurityFromActionState(e.currentSnapshot(ctx), e.levels())
}

// dispatch applies ev and publishes the new state.
func (e *Executor) dispatch(ev Event) State {
	e.mu.Lock()
	from := e.state
	to := Reduce(from, ev)
	e.state = to
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- to
	}
	e.mu.Unlock()

	e.logger.Debug("execution transition",
		zap.String("event", ev.Name()),
		zap.String("from", string(from.Status)),
		zap.String("to", string(to.Status)),
	)
	if e.onTransition != nil {
		e.onTransition(from, to, ev)
	}
	return to
}

func postErrorMessage(err error) string {
	var ae *action.ActionError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if errors.Is(err, action.ErrMissingParameter) {
		return err.Error()
	}
	return "Failed to request transaction"
}
