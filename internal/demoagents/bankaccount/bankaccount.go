// Package bankaccount is a worked event-sourced agent used by the kernel
// demo: a bank account whose balance and history are derived entirely from
// its committed event log.
package bankaccount

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/config"
	"github.com/agentkernel/agentkernel/kernel/esagent"
	"github.com/agentkernel/agentkernel/kernel/eventstore"
)

// accountConfigSchema constrains the YAML OnConfigure accepts: overdraft
// limits are never negative.
const accountConfigSchema = `
type: object
properties:
  overdraftLimit:
    type: number
    minimum: 0
required: [overdraftLimit]
`

// Config is the typed configuration an Account accepts through OnConfigure.
type Config struct {
	OverdraftLimit float64 `yaml:"overdraftLimit"`
}

type (
	// AccountCreated is raised once, by CreateAccount.
	AccountCreated struct {
		Holder         string
		InitialBalance float64
	}

	// MoneyDeposited is raised by Deposit and by BatchTransactions.
	MoneyDeposited struct {
		Amount float64
		Reason string
	}

	// MoneyWithdrawn is raised by Withdraw and by BatchTransactions.
	MoneyWithdrawn struct {
		Amount float64
		Reason string
	}

	// TransactionRequest is one leg of a BatchTransactions call.
	TransactionRequest struct {
		Kind   string // "deposit" or "withdraw"
		Amount float64
		Reason string
	}
)

func init() {
	esagent.RegisterEventType[AccountCreated]()
	esagent.RegisterEventType[MoneyDeposited]()
	esagent.RegisterEventType[MoneyWithdrawn]()
}

// State is the account's derived state: holder, balance, transaction count,
// and a human-readable history, rebuilt entirely by replaying events.
type State struct {
	Holder           string
	Balance          float64
	TransactionCount int
	History          []string
}

// Clone implements esagent.State.
func (s *State) Clone() esagent.State {
	clone := *s
	clone.History = append([]string(nil), s.History...)
	return &clone
}

// Account is an event-sourced bank account agent.
type Account struct {
	*esagent.Base

	overdraftLimit float64
}

// New constructs an Account for id backed by store. Replay is not
// performed here; call OnActivate (via actor.Activate) to reconstruct state
// from history before issuing commands.
func New(id uuid.UUID, store eventstore.Store) *Account {
	acct := &Account{}
	acct.Base = esagent.NewBase(id, &State{}, acct, store, nil, nil)
	return acct
}

// TransitionState implements esagent.Transitioner.
func (a *Account) TransitionState(state esagent.State, event any) error {
	s, ok := state.(*State)
	if !ok {
		return fmt.Errorf("bankaccount: unexpected state type %T", state)
	}
	switch e := event.(type) {
	case AccountCreated:
		s.Holder = e.Holder
		s.Balance = e.InitialBalance
		s.History = append(s.History, fmt.Sprintf("account created for %s with %.2f", e.Holder, e.InitialBalance))
	case MoneyDeposited:
		s.Balance += e.Amount
		s.TransactionCount++
		s.History = append(s.History, fmt.Sprintf("deposited %.2f (%s)", e.Amount, e.Reason))
	case MoneyWithdrawn:
		s.Balance -= e.Amount
		s.TransactionCount++
		s.History = append(s.History, fmt.Sprintf("withdrew %.2f (%s)", e.Amount, e.Reason))
	}
	return nil
}

// Snapshot returns a read-only copy of the account's current state.
func (a *Account) Snapshot() State {
	return *a.GetState().(*State)
}

// OnConfigure parses a YAML document (validated against accountConfigSchema)
// into the account's overdraft limit.
func (a *Account) OnConfigure(_ context.Context, raw []byte) error {
	cfg, err := config.LoadWithSchema[Config](raw, []byte(accountConfigSchema))
	if err != nil {
		return fmt.Errorf("bankaccount: configure: %w", err)
	}
	a.overdraftLimit = cfg.OverdraftLimit
	return nil
}

// OverdraftLimit returns the configured overdraft limit, zero until
// OnConfigure has run.
func (a *Account) OverdraftLimit() float64 { return a.overdraftLimit }

// CreateAccount stages AccountCreated and commits it immediately.
func (a *Account) CreateAccount(ctx context.Context, holder string, initialBalance float64) error {
	a.RaiseEvent(AccountCreated{Holder: holder, InitialBalance: initialBalance}, nil)
	return a.ConfirmEventsAsync(ctx)
}

// Deposit stages MoneyDeposited and commits it immediately.
func (a *Account) Deposit(ctx context.Context, amount float64, reason string) error {
	a.RaiseEvent(MoneyDeposited{Amount: amount, Reason: reason}, nil)
	return a.ConfirmEventsAsync(ctx)
}

// Withdraw stages MoneyWithdrawn and commits it immediately.
func (a *Account) Withdraw(ctx context.Context, amount float64, reason string) error {
	a.RaiseEvent(MoneyWithdrawn{Amount: amount, Reason: reason}, nil)
	return a.ConfirmEventsAsync(ctx)
}

// BatchTransactions stages every request in reqs and commits them as a
// single batch: one AppendEvents call, one expected_version check.
func (a *Account) BatchTransactions(ctx context.Context, reqs []TransactionRequest) error {
	for _, r := range reqs {
		switch r.Kind {
		case "deposit":
			a.RaiseEvent(MoneyDeposited{Amount: r.Amount, Reason: r.Reason}, nil)
		case "withdraw":
			a.RaiseEvent(MoneyWithdrawn{Amount: r.Amount, Reason: r.Reason}, nil)
		default:
			return fmt.Errorf("bankaccount: unknown transaction kind %q", r.Kind)
		}
	}
	return a.ConfirmEventsAsync(ctx)
}
