package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/monitoring"
)

// Request is what the authentication callback is asked to judge.
type Request struct {
	ServerID     string `json:"serverId"`
	ConnectionID string `json:"connectionId"`
	Session      string `json:"session,omitempty"`
	Credential   string `json:"credential"`
	ClientIP     string `json:"clientIP"`
}

// Func is the authentication callback. A non-nil principal accepts the
// credential, (nil, nil) rejects it, and an error is a failed check.
type Func func(ctx context.Context, req Request) (Principal, error)

// Trigger says why a credential is being evaluated.
type Trigger uint8

const (
	TriggerMessage Trigger = iota
	TriggerHealthCheck
)

func (t Trigger) String() string {
	if t == TriggerHealthCheck {
		return "health_check"
	}
	return "message"
}

// Result of one evaluation.
type Result uint8

const (
	// ResultSkipped: nothing to evaluate.
	ResultSkipped Result = iota
	ResultAuthenticated
	// ResultRejected: the callback answered no.
	ResultRejected
	// ResultFailed: the callback errored, panicked or timed out.
	ResultFailed
	// ResultStale: the connection closed while the callback ran; nothing applied.
	ResultStale
)

func (r Result) String() string {
	switch r {
	case ResultAuthenticated:
		return "authenticated"
	case ResultRejected:
		return "rejected"
	case ResultFailed:
		return "failed"
	case ResultStale:
		return "stale"
	default:
		return "skipped"
	}
}

// Outcome reports what an evaluation did to the connection's State.
type Outcome struct {
	Result  Result
	Trigger Trigger
	// Changed is set when an accepted credential differs from the one
	// previously stored.
	Changed bool
	Token   Token
	Err     error
}

// Disconnect reports whether the connection must be dropped: a rejected or
// failed credential presented in a message. Health checks never disconnect.
func (o Outcome) Disconnect() bool {
	return o.Trigger == TriggerMessage && (o.Result == ResultRejected || o.Result == ResultFailed)
}

// State is the per-connection authentication state.
type State struct {
	mu        sync.Mutex
	token     Token
	tokenData string
}

func (s *State) Token() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// TokenData is the last accepted credential, "" when none.
func (s *State) TokenData() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenData
}

// Snapshot returns token and tokenData together.
func (s *State) Snapshot() (Token, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.tokenData
}

// Attempt describes one evaluation.
type Attempt struct {
	Request
	// Presented is the credential carried by the message, if HasPresented.
	// Otherwise the stored tokenData is re-validated.
	Presented    string
	HasPresented bool
	Trigger      Trigger
}

var ErrCallbackPanic = errors.New("auth callback panicked")

// Machine runs the authentication state transitions for connections.
type Machine struct {
	check   Func
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMachine wraps an authentication callback. A nil callback rejects every
// credential.
func NewMachine(check Func, timeout time.Duration, logger zerolog.Logger) *Machine {
	if check == nil {
		check = func(context.Context, Request) (Principal, error) { return nil, nil }
	}
	return &Machine{
		check:   check,
		timeout: timeout,
		logger:  logger.With().Str("component", "auth").Logger(),
	}
}

// Evaluate runs the callback outside any lock and applies the result to st,
// unless alive reports the connection is gone by the time it returns.
func (m *Machine) Evaluate(ctx context.Context, st *State, at Attempt, alive func() bool) Outcome {
	cred := at.Presented
	if !at.HasPresented {
		cred = st.TokenData()
		if cred == "" {
			return Outcome{Result: ResultSkipped, Trigger: at.Trigger}
		}
	}

	req := at.Request
	req.Credential = cred

	start := time.Now()
	principal, err := m.call(ctx, req)
	took := time.Since(start)

	if !alive() {
		monitoring.RecordAuth(at.Trigger.String(), ResultStale.String(), took)
		return Outcome{Result: ResultStale, Trigger: at.Trigger}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// A re-validation only speaks for the credential it checked. If a newer
	// message replaced or cleared it meanwhile, the verdict is dropped.
	if at.Trigger == TriggerHealthCheck && st.tokenData != cred {
		monitoring.RecordAuth(at.Trigger.String(), ResultStale.String(), took)
		m.logger.Debug().
			Str("connection_id", req.ConnectionID).
			Dur("took", took).
			Msg("Credential replaced during re-validation, result dropped")
		return Outcome{Result: ResultStale, Trigger: at.Trigger}
	}

	out := Outcome{Trigger: at.Trigger}
	switch {
	case err != nil:
		out.Result = ResultFailed
		out.Err = err
		st.token = Rejected()
		st.tokenData = ""
	case principal == nil:
		out.Result = ResultRejected
		st.token = Rejected()
		st.tokenData = ""
	default:
		out.Result = ResultAuthenticated
		out.Changed = cred != st.tokenData
		st.token = Authenticated(principal)
		st.tokenData = cred
	}
	out.Token = st.token

	monitoring.RecordAuth(at.Trigger.String(), out.Result.String(), took)
	m.logger.Debug().
		Str("connection_id", req.ConnectionID).
		Stringer("trigger", at.Trigger).
		Stringer("result", out.Result).
		Bool("changed", out.Changed).
		Dur("took", took).
		Err(err).
		Msg("Credential evaluated")

	return out
}

func (m *Machine) call(ctx context.Context, req Request) (p Principal, err error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return m.check(ctx, req)
}
