// Package routing decides the gateway's identity and the names under which
// its events are published and its commands are received.
package routing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/adred-codev/ws_gateway/internal/types"
)

var ErrUnknownMode = errors.New("unknown server mode")

// IdentityResolver asks a peer for the identity to adopt (multi mode).
type IdentityResolver interface {
	ResolveServerID(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) ResolveServerID(ctx context.Context) (string, error) { return f(ctx) }

// Options configure New.
type Options struct {
	Mode     types.ServerMode
	ServerID string           // explicit identity; wins over Resolver
	Resolver IdentityResolver // multi mode only
	Prefix   string           // subject namespace, e.g. "ws"
}

// Router is immutable once built.
type Router struct {
	mode     types.ServerMode
	serverID string
	scoped   bool
	prefix   string
}

// New picks the identity for mode:
//   - single: ServerID, or a generated one
//   - multi: ServerID, else Resolver, else generated
//   - generic: ServerID or generated, used as a label only; routing is unscoped
func New(ctx context.Context, opts Options) (*Router, error) {
	r := &Router{
		mode:   opts.Mode,
		prefix: strings.Trim(opts.Prefix, "."),
	}

	switch opts.Mode {
	case types.ModeSingle:
		r.scoped = true
		r.serverID = opts.ServerID
	case types.ModeMulti:
		r.scoped = true
		r.serverID = opts.ServerID
		if r.serverID == "" && opts.Resolver != nil {
			id, err := opts.Resolver.ResolveServerID(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve server id from tied peer: %w", err)
			}
			if id == "" {
				return nil, errors.New("resolve server id from tied peer: empty id")
			}
			r.serverID = id
		}
	case types.ModeGeneric:
		r.serverID = opts.ServerID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}

	if r.serverID == "" {
		r.serverID = NewIdentity()
	}
	return r, nil
}

func (r *Router) Mode() types.ServerMode { return r.mode }
func (r *Router) ServerID() string       { return r.serverID }

// Scoped reports whether events and commands are namespaced by ServerID.
func (r *Router) Scoped() bool { return r.scoped }

// EventSubject names the subject an event is published on.
func (r *Router) EventSubject(event string) string {
	return r.subject(r.scoped, event)
}

// CommandSubject names the subject a command is received on.
func (r *Router) CommandSubject(command string) string {
	return r.subject(r.scoped, command)
}

// SharedSubject is never scoped; used for discovery requests every gateway
// answers.
func (r *Router) SharedSubject(name string) string {
	return r.subject(false, name)
}

func (r *Router) subject(scoped bool, name string) string {
	parts := make([]string, 0, 3)
	if r.prefix != "" {
		parts = append(parts, r.prefix)
	}
	if scoped {
		parts = append(parts, r.serverID)
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

// NewIdentity returns hostname followed by a random UUID. Used for server
// and connection ids.
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ws"
	}
	return sanitize(host) + "-" + uuid.NewString()
}

// sanitize strips characters that would split a subject token.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}
