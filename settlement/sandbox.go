package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xraph/ticketbooth/types"
)

// Sandbox is an in-process Gateway. Payments stay pending until Settle or
// Fail is called, or settle immediately when AutoSettle is on. It is used
// by tests and by the development binary.
type Sandbox struct {
	mu         sync.Mutex
	verdicts   map[string]Verdict
	balances   map[string]types.Money
	autoSettle bool
	err        error

	creates  atomic.Int64
	verifies atomic.Int64
}

var _ Gateway = (*Sandbox)(nil)

// NewSandbox returns an empty sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{
		verdicts: make(map[string]Verdict),
		balances: make(map[string]types.Money),
	}
}

// SetAutoSettle makes every new challenge settle on first verify.
func (s *Sandbox) SetAutoSettle(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSettle = on
}

// SetError makes every call fail with err until cleared with nil.
func (s *Sandbox) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Settle marks a reference as paid.
func (s *Sandbox) Settle(reference string) { s.set(reference, Settled) }

// Fail marks a reference as failed.
func (s *Sandbox) Fail(reference string) { s.set(reference, Failed) }

// SetBalance sets the balance reported for wallet.
func (s *Sandbox) SetBalance(wallet string, m types.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[wallet] = m
}

// CreateCalls returns how many challenges were requested.
func (s *Sandbox) CreateCalls() int64 { return s.creates.Load() }

// VerifyCalls returns how many verifications were requested.
func (s *Sandbox) VerifyCalls() int64 { return s.verifies.Load() }

func (s *Sandbox) set(reference string, v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[reference] = v
}

type sandboxChallenge struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Network   string `json:"network"`
	PayTo     string `json:"pay_to"`
	Payer     string `json:"payer"`
	Scheme    string `json:"scheme"`
}

func (s *Sandbox) CreateChallenge(_ context.Context, req ChallengeRequest) (json.RawMessage, error) {
	s.creates.Add(1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.verdicts[req.Reference]; !ok {
		v := Pending
		if s.autoSettle {
			v = Settled
		}
		s.verdicts[req.Reference] = v
	}
	s.mu.Unlock()

	return json.Marshal(sandboxChallenge{
		PaymentID: req.Reference,
		Amount:    req.Amount.FormatMajor(),
		Currency:  "USDC",
		Network:   req.Network,
		PayTo:     req.Payee,
		Payer:     req.Payer,
		Scheme:    "sandbox",
	})
}

func (s *Sandbox) Verify(_ context.Context, reference string) (Verdict, error) {
	s.verifies.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Pending, s.err
	}
	v, ok := s.verdicts[reference]
	if !ok {
		return Pending, fmt.Errorf("settlement: unknown reference %q", reference)
	}
	return v, nil
}

func (s *Sandbox) Balance(_ context.Context, wallet string) (types.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.Money{}, s.err
	}
	if m, ok := s.balances[wallet]; ok {
		return m, nil
	}
	return types.Zero(types.CurrencyUSDC), nil
}
