package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/execution"
	"github.com/triage-ai/blinkguard/internal/resolver"
	"github.com/triage-ai/blinkguard/internal/storage"
	"github.com/triage-ai/blinkguard/internal/store"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
)

// Transaction outcomes recorded besides the verdict ones.
const (
	// outcomePrepared marks a transaction handed back to the caller for signing.
	outcomePrepared    = "prepared"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

// evaluation is a resolved link and its trust verdict under a project policy.
type evaluation struct {
	resolution *resolver.Resolution
	snapshot   trust.ActionStateWithOrigin
	levels     trust.NormalizedSecurityLevel
	class      trust.ExtendedActionState
	allowed    bool
	shadow     bool
}

// enforced reports whether the caller must be refused.
func (e *evaluation) enforced() bool {
	return !e.allowed && !e.shadow
}

func (e *evaluation) trustResp() TrustResp {
	return TrustResp{
		Snapshot:       e.snapshot,
		Classification: e.class,
		Levels:         e.levels,
		Disclaimer:     trust.DisclaimerFor(e.snapshot, e.levels),
		Allowed:        e.allowed,
		IsShadow:       e.shadow,
	}
}

// evaluate resolves link and checks it against the project's policy.
func (d *Dependencies) evaluate(ctx context.Context, proj *authProject, link string) (*evaluation, error) {
	res, err := d.Resolver.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}

	snap := d.Evaluator.Snapshot(ctx, trust.Target{
		ActionURL:  res.ActionURL,
		OriginURL:  res.OriginURL,
		OriginType: res.OriginType,
	}, proj.Policy)
	levels := proj.Policy.Levels()

	ev := &evaluation{
		resolution: res,
		snapshot:   snap,
		levels:     levels,
		class:      trust.Classify(snap),
		allowed:    trust.CheckSecurityFromActionState(snap, levels),
	}
	ev.shadow = !ev.allowed && proj.Mode == store.ModeShadow
	d.Metrics.ObserveVerdict(ev.class, ev.allowed)
	return ev, nil
}

// handleResolve implements POST /v1/blinks/resolve.
func (d *Dependencies) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BlinkReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "url is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	ev, err := d.evaluate(r.Context(), proj, req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	eventID := d.writeBlinkEvent(blinkEvent{
		kind:    storage.KindResolve,
		project: proj,
		link:    req.URL,
		eval:    ev,
		outcome: verdictOutcome(ev),
		start:   start,
	})

	writeJSON(w, http.StatusOK, ResolveResp{
		EventID:    eventID,
		Resolution: ev.resolution,
		Trust:      ev.trustResp(),
	})
}

// handleInspect implements POST /v1/blinks/inspect. The descriptor is only
// fetched when the blink passes the security check or the project is in
// shadow mode.
func (d *Dependencies) handleInspect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BlinkReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "url is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	ev, err := d.evaluate(r.Context(), proj, req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	resp := InspectResp{ResolveResp: ResolveResp{Resolution: ev.resolution, Trust: ev.trustResp()}}
	outcome := verdictOutcome(ev)
	var errMsg string
	if !ev.enforced() {
		if act := d.Actions.Fetch(r.Context(), ev.resolution.ActionURL); act != nil {
			resp.Action = actionToResp(act)
		} else {
			outcome = outcomeUnavailable
			errMsg = "Failed to fetch action"
		}
	}

	resp.EventID = d.writeBlinkEvent(blinkEvent{
		kind:    storage.KindInspect,
		project: proj,
		link:    req.URL,
		eval:    ev,
		outcome: outcome,
		errMsg:  errMsg,
		start:   start,
	})

	if errMsg != "" {
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: errMsg})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTransaction implements POST /v1/blinks/transaction. It runs the
// execution state machine up to the POST: the trust check is repeated, the
// component's transaction is requested for the caller's account and handed
// back unsigned.
func (d *Dependencies) handleTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req TransactionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "url is required"})
		return
	}
	if _, err := solana.PublicKeyFromBase58(req.Account); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "account must be a base58 public key"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	ev, err := d.evaluate(r.Context(), proj, req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	record := blinkEvent{
		kind:    storage.KindTransaction,
		project: proj,
		link:    req.URL,
		eval:    ev,
		account: req.Account,
		start:   start,
	}
	state := execution.State{Status: execution.StatusIdle}
	step := func(e execution.Event) {
		next := execution.Reduce(state, e)
		d.Metrics.ObserveTransition(state, next, e)
		state = next
	}

	if ev.enforced() {
		step(execution.Block{})
		record.outcome = string(state.Status)
		writeJSON(w, http.StatusForbidden, BlockedResp{
			Detail:  "blocked",
			EventID: d.writeBlinkEvent(record),
			Trust:   ev.trustResp(),
		})
		return
	}

	act := d.Actions.Fetch(r.Context(), ev.resolution.ActionURL)
	if act == nil {
		record.outcome = outcomeUnavailable
		record.errMsg = "Failed to fetch action"
		d.writeBlinkEvent(record)
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: record.errMsg})
		return
	}
	if act.Disabled() {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Action is disabled"})
		return
	}
	component := act.Component(req.ComponentIndex)
	if component == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "component_index out of range"})
		return
	}
	record.label = component.Label()

	for name, value := range req.Params {
		component.SetValue(value, name)
	}
	step(execution.Initiate{Component: component})

	if err := component.Validate(); err != nil {
		step(execution.SoftReset{Message: err.Error()})
		record.outcome = outcomeRejected
		record.errMsg = state.ErrorMessage
		d.writeBlinkEvent(record)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: state.ErrorMessage})
		return
	}

	resp, err := component.Post(r.Context(), req.Account)
	if err != nil {
		status, msg := http.StatusBadGateway, "Failed to request transaction"
		var ae *action.ActionError
		if errors.As(err, &ae) {
			status = http.StatusUnprocessableEntity
			if ae.Message != "" {
				msg = ae.Message
			}
		}
		d.Logger.Info("transaction request rejected",
			zap.String("href", component.Href()),
			zap.Error(err),
		)
		step(execution.SoftReset{Message: msg})
		record.outcome = outcomeRejected
		record.errMsg = msg
		d.writeBlinkEvent(record)
		writeJSON(w, status, ErrorResp{Detail: msg})
		return
	}

	record.outcome = outcomePrepared
	out := TransactionResp{
		EventID:     d.writeBlinkEvent(record),
		Transaction: resp.Transaction,
		Trust:       ev.trustResp(),
	}
	if resp.Message != "" {
		out.Message = &resp.Message
	}
	writeJSON(w, http.StatusOK, out)
}

// blinkEvent collects the fields of one recorded blink event.
type blinkEvent struct {
	kind    string
	project *authProject
	link    string
	eval    *evaluation
	outcome string
	errMsg  string
	account string
	label   string
	start   time.Time
}

// writeBlinkEvent fires the event to the async writer and returns its ID.
func (d *Dependencies) writeBlinkEvent(e blinkEvent) string {
	eventID := uuid.New().String()
	event := &storage.ExecutionEvent{
		EventID:        eventID,
		ProjectID:      e.project.ID,
		Timestamp:      time.Now(),
		Kind:           e.kind,
		Link:           storage.Truncate(e.link, storage.LinkPreviewLength),
		ActionURL:      storage.Truncate(e.eval.resolution.ActionURL, storage.LinkPreviewLength),
		ActionHost:     hostOf(e.eval.resolution.ActionURL),
		OriginURL:      storage.Truncate(e.eval.resolution.OriginURL, storage.LinkPreviewLength),
		OriginType:     string(e.eval.resolution.OriginType),
		ActionState:    string(e.eval.snapshot.Action),
		Classification: string(e.eval.class),
		Allowed:        e.eval.allowed,
		Outcome:        e.outcome,
		ErrorMessage:   storage.Truncate(e.errMsg, storage.LinkPreviewLength),
		Account:        e.account,
		ComponentLabel: e.label,
		LatencyMs:      float32(time.Since(e.start)) / float32(time.Millisecond),
		Source:         "api",
	}
	if e.eval.snapshot.Origin != nil {
		event.OriginState = string(*e.eval.snapshot.Origin)
	}
	d.Writer.Write(event)
	return eventID
}

func verdictOutcome(ev *evaluation) string {
	if ev.allowed {
		return "allowed"
	}
	return "blocked"
}

func actionToResp(a *action.Action) *ActionResp {
	resp := &ActionResp{
		URL:         a.URL(),
		Icon:        a.Icon(),
		Title:       a.Title(),
		Description: a.Description(),
		Label:       a.Label(),
		Disabled:    a.Disabled(),
		Error:       nilIfEmpty(a.ErrorMessage()),
		Components:  make([]ComponentResp, 0, len(a.Components())),
	}
	for i, c := range a.Components() {
		resp.Components = append(resp.Components, ComponentResp{
			Index:      i,
			Label:      c.Label(),
			Kind:       c.Kind().String(),
			Href:       c.Template(),
			Parameters: c.Parameters(),
		})
	}
	return resp
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
