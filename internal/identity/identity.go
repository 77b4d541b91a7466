// Package identity answers "who is making this request". Sessions are
// opaque random tokens held in a cookie and mapped to a user ID in memory;
// sign-in and sign-out notify listeners so per-user state (cached views,
// live subscriptions) can be built up and torn down.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// Provider resolves the current user from a request context.
type Provider interface {
	// CurrentUser returns the signed-in user ID, or false when the
	// request is anonymous.
	CurrentUser(ctx context.Context) (string, bool)
}

var (
	ErrEmptyUser    = errors.New("empty user id")
	ErrUnknownToken = errors.New("unknown session token")
)

type ctxKey struct{}

// WithToken attaches a session token to the context. The HTTP layer calls
// this after reading the session cookie.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

func tokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ctxKey{}).(string)
	return token, ok && token != ""
}

// ChangeListener observes sign-in and sign-out. signedIn is true when the
// user just got a session and false when their last session went away.
type ChangeListener func(userID string, signedIn bool)

type session struct {
	userID    string
	createdAt time.Time
}

// SessionProvider is the in-memory Provider implementation.
type SessionProvider struct {
	mu        sync.RWMutex
	sessions  map[string]session
	listeners []ChangeListener
}

var _ Provider = (*SessionProvider)(nil)

func NewSessionProvider() *SessionProvider {
	return &SessionProvider{sessions: make(map[string]session)}
}

// OnChange registers a listener. Register everything before serving
// traffic; listeners are called outside the provider's lock.
func (p *SessionProvider) OnChange(fn ChangeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SignIn creates a session for the user and returns its token.
func (p *SessionProvider) SignIn(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrEmptyUser
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	p.mu.Lock()
	first := p.sessionCountLocked(userID) == 0
	p.sessions[token] = session{userID: userID, createdAt: time.Now()}
	listeners := p.listeners
	p.mu.Unlock()

	if first {
		for _, fn := range listeners {
			fn(userID, true)
		}
	}
	return token, nil
}

// SignOut revokes one session token.
func (p *SessionProvider) SignOut(token string) error {
	p.mu.Lock()
	s, ok := p.sessions[token]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownToken
	}
	delete(p.sessions, token)
	last := p.sessionCountLocked(s.userID) == 0
	listeners := p.listeners
	p.mu.Unlock()

	if last {
		for _, fn := range listeners {
			fn(s.userID, false)
		}
	}
	return nil
}

func (p *SessionProvider) CurrentUser(ctx context.Context) (string, bool) {
	token, ok := tokenFrom(ctx)
	if !ok {
		return "", false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[token]
	if !ok {
		return "", false
	}
	return s.userID, true
}

func (p *SessionProvider) sessionCountLocked(userID string) int {
	n := 0
	for _, s := range p.sessions {
		if s.userID == userID {
			n++
		}
	}
	return n
}
