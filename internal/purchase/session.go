package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"stampbuy/internal/dispense"
	"stampbuy/internal/dispenser"
	"stampbuy/internal/logging"
	"stampbuy/internal/wallet"
)

// DefaultCloseDelay is how long a settled session stays open.
const DefaultCloseDelay = 5 * time.Second

// ErrClosed is returned when editing a session that has been closed.
var ErrClosed = errors.New("purchase session closed")

// Messages shown to the buyer.
const (
	MsgConnectWallet = "Please connect your wallet."
	MsgAgreeTerms    = "You must agree to the terms and conditions."
	MsgSoldOut       = "This dispenser has no units remaining."
	MsgCreateFailed  = "Failed to create dispense transaction."
	MsgSignCancelled = "Transaction signing was cancelled."
	MsgSignFailed    = "Failed to sign PSBT: "
	MsgUnexpected    = "Failed to create or send transaction."
	msgBroadcastFmt  = "Transaction broadcasted successfully. TXID: %s"
)

type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateRequesting        State = "requesting"
	StateAwaitingSignature State = "awaiting_signature"
	StateBroadcasting      State = "broadcasting"
	StateSettled           State = "settled"
	StateCancelled         State = "cancelled"
)

// Outcome classifies how a Submit call ended.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomePrecondition Outcome = "precondition"
	OutcomeServiceError Outcome = "service_error"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeSignFailed   Outcome = "sign_failed"
	OutcomeFailed       Outcome = "failed"
	OutcomeSettled      Outcome = "settled"
	// OutcomeDiscarded means the session closed while the attempt was in
	// flight and its result was dropped.
	OutcomeDiscarded Outcome = "discarded"
)

// Status is the transient workflow state of a session.
type Status struct {
	State      State  `json:"state"`
	Submitting bool   `json:"submitting"`
	Error      string `json:"error,omitempty"`
	Success    string `json:"success,omitempty"`
	TxID       string `json:"txid,omitempty"`
}

// Timer is the part of *time.Timer a session needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config wires a session to its collaborators.
type Config struct {
	Wallet     wallet.Wallet
	Dispense   dispense.Client
	CloseDelay time.Duration
	AfterFunc  AfterFunc
	// OnClose runs once when a settled session closes itself.
	OnClose func()
	Log     slog.Logger
}

// Session is one buyer's purchase from one dispenser, from opening until it
// is closed.
type Session struct {
	id    string
	stamp string

	wallet     wallet.Wallet
	dispense   dispense.Client
	closeDelay time.Duration
	afterFunc  AfterFunc
	onClose    func()
	log        slog.Logger

	mu     sync.Mutex
	form   *dispenser.Form
	status Status
	closed bool
	timer  Timer
}

func NewSession(id, stamp string, d dispenser.Dispenser, feeRate int64, cfg Config) *Session {
	delay := cfg.CloseDelay
	if delay <= 0 {
		delay = DefaultCloseDelay
	}
	after := cfg.AfterFunc
	if after == nil {
		after = realAfterFunc
	}
	return &Session{
		id:         id,
		stamp:      stamp,
		wallet:     cfg.Wallet,
		dispense:   cfg.Dispense,
		closeDelay: delay,
		afterFunc:  after,
		onClose:    cfg.OnClose,
		log:        logging.OrDisabled(cfg.Log),
		form:       dispenser.NewForm(d, feeRate),
		status:     Status{State: StateIdle},
	}
}

func (s *Session) ID() string { return s.id }

// View is a consistent snapshot of a session.
type View struct {
	ID     string          `json:"id"`
	Stamp  string          `json:"stamp,omitempty"`
	Quote  dispenser.Quote `json:"quote"`
	Status Status          `json:"status"`
	Closed bool            `json:"closed"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		ID:     s.id,
		Stamp:  s.stamp,
		Quote:  s.form.Snapshot(),
		Status: s.status,
		Closed: s.closed,
	}
}

// Edit applies fn to the form unless the session is closed.
func (s *Session) Edit(fn func(f *dispenser.Form)) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.viewLocked(), ErrClosed
	}
	fn(s.form)
	return s.viewLocked(), nil
}

func (s *Session) SetQuantityInput(raw string) (View, error) {
	return s.Edit(func(f *dispenser.Form) { f.SetQuantityInput(raw) })
}

func (s *Session) SetFeeRate(rate int64) (View, error) {
	return s.Edit(func(f *dispenser.Form) { f.SetFeeRate(rate) })
}

func (s *Session) SetAgreed(agreed bool) (View, error) {
	return s.Edit(func(f *dispenser.Form) { f.SetAgreed(agreed) })
}

func (s *Session) SetDispenser(d dispenser.Dispenser) (View, error) {
	return s.Edit(func(f *dispenser.Form) { f.SetDispenser(d) })
}

// Submit runs one purchase attempt to completion. It is a no-op while
// another attempt is running, after the purchase settled, or once the
// session is closed.
func (s *Session) Submit(ctx context.Context) (Status, Outcome) {
	s.mu.Lock()
	if s.closed || s.status.Submitting || s.status.State == StateSettled {
		st := s.status
		s.mu.Unlock()
		return st, OutcomeIgnored
	}
	s.status = Status{State: StateValidating, Submitting: true}
	quote := s.form.Snapshot()
	s.mu.Unlock()

	res := s.execute(ctx, quote)
	return s.finish(res)
}

type result struct {
	state   State
	outcome Outcome
	errMsg  string
	success string
	txid    string
}

func failure(outcome Outcome, msg string) result {
	return result{state: StateIdle, outcome: outcome, errMsg: msg}
}

var discarded = result{outcome: OutcomeDiscarded}

func (s *Session) execute(ctx context.Context, q dispenser.Quote) (res result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Purchase %s: unexpected panic: %v", s.id, r)
			res = failure(OutcomeFailed, MsgUnexpected)
		}
	}()

	acct, ok := s.wallet.Current()
	if !s.wallet.IsConnected() || !ok {
		s.wallet.PromptConnect()
		return failure(OutcomePrecondition, MsgConnectWallet)
	}
	if !q.Agreed {
		return failure(OutcomePrecondition, MsgAgreeTerms)
	}
	if q.SoldOut {
		return failure(OutcomePrecondition, MsgSoldOut)
	}

	if !s.advance(StateRequesting) {
		return discarded
	}
	created, err := s.dispense.CreateDispense(ctx, dispense.Request{
		Address:         acct.Address,
		DispenserSource: q.Source,
		Quantity:        q.TotalPrice,
		FeeRate:         q.FeeRate,
	})
	if err != nil {
		return s.serviceFailure(err)
	}

	if !s.advance(StateAwaitingSignature) {
		return discarded
	}
	// TODO: pass the buyer's input indexes once the dispense endpoint
	// reports which PSBT inputs they own.
	inputsToSign := []int{}
	signed, err := s.wallet.SignPSBT(ctx, acct, created.PSBT, inputsToSign, true)
	if err != nil {
		s.log.Errorf("Purchase %s: sign request failed: %v", s.id, err)
		return failure(OutcomeFailed, MsgUnexpected)
	}
	switch {
	case signed.Signed:
	case signed.Cancelled:
		s.log.Infof("Purchase %s: signing cancelled by user", s.id)
		return result{state: StateCancelled, outcome: OutcomeCancelled, errMsg: MsgSignCancelled}
	default:
		return failure(OutcomeSignFailed, MsgSignFailed+signed.Error)
	}

	if !s.advance(StateBroadcasting) {
		return discarded
	}
	txid, err := s.wallet.BroadcastPSBT(ctx, signed.PSBT)
	if err == nil {
		txid, err = wallet.NormalizeTxID(txid)
	}
	if err != nil {
		s.log.Errorf("Purchase %s: broadcast failed: %v", s.id, err)
		return failure(OutcomeFailed, MsgUnexpected)
	}

	s.log.Infof("Purchase %s: broadcast %s for %d sats", s.id, txid, q.TotalPrice)
	return result{
		state:   StateSettled,
		outcome: OutcomeSettled,
		success: fmt.Sprintf(msgBroadcastFmt, txid),
		txid:    txid,
	}
}

func (s *Session) serviceFailure(err error) result {
	var apiErr *dispense.APIError
	switch {
	case errors.As(err, &apiErr):
		s.log.Warnf("Purchase %s: %v", s.id, apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = MsgCreateFailed
		}
		return failure(OutcomeServiceError, msg)
	case errors.Is(err, dispense.ErrMalformedResponse):
		s.log.Warnf("Purchase %s: %v", s.id, err)
		return failure(OutcomeServiceError, MsgCreateFailed)
	default:
		s.log.Errorf("Purchase %s: create dispense: %v", s.id, err)
		return failure(OutcomeFailed, MsgUnexpected)
	}
}

// advance moves an in-flight attempt forward. It reports false once the
// session has been closed.
func (s *Session) advance(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.status.State = state
	return true
}

func (s *Session) finish(res result) (Status, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || res.outcome == OutcomeDiscarded {
		s.log.Debugf("Purchase %s closed mid-flight, dropping result", s.id)
		s.status.Submitting = false
		return s.status, OutcomeDiscarded
	}
	s.status = Status{
		State:   res.state,
		Error:   res.errMsg,
		Success: res.success,
		TxID:    res.txid,
	}
	if res.state == StateSettled {
		s.timer = s.afterFunc(s.closeDelay, s.autoClose)
	}
	return s.status, res.outcome
}

func (s *Session) autoClose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.timer = nil
	s.status.Success = ""
	s.status.Submitting = false
	onClose := s.onClose
	s.mu.Unlock()

	s.log.Debugf("Purchase %s closed after settling", s.id)
	if onClose != nil {
		onClose()
	}
}

// Close ends the session and cancels a pending auto-close. In-flight
// attempts finish but their results are dropped. It reports whether this
// call closed the session.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return true
}
