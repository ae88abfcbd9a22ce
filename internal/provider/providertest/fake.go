// Package providertest contains a scripted CalendarProvider for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/briefcast-io/calsync/internal/provider"
)

// Fake is an in-memory CalendarProvider whose responses are scripted per
// month label. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	ExchangeTokens *provider.Tokens
	ExchangeErr    error

	RefreshTokens *provider.Tokens
	RefreshErr    error
	refreshCalls  int

	// EventsByMonth and ErrByMonth script ListEvents responses keyed by
	// Window.Label(). A month present in ErrByMonth fails every call.
	EventsByMonth map[string][]*provider.Event
	ErrByMonth    map[string]error
	listCalls     int

	// ListGate, when set, blocks ListEvents until the channel is closed.
	// Used to hold a sync in-flight while asserting lease behavior.
	ListGate chan struct{}

	// RefreshGate, when set, blocks RefreshToken until the channel is
	// closed. Used to pile concurrent callers onto one in-flight refresh.
	RefreshGate chan struct{}
}

func New() *Fake {
	return &Fake{
		EventsByMonth: make(map[string][]*provider.Event),
		ErrByMonth:    make(map[string]error),
	}
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) ExchangeCode(ctx context.Context, code string) (*provider.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	tokens := *f.ExchangeTokens
	return &tokens, nil
}

func (f *Fake) RefreshToken(ctx context.Context, refreshToken string) (*provider.Tokens, error) {
	f.mu.Lock()
	gate := f.RefreshGate
	f.refreshCalls++
	if f.RefreshErr != nil {
		f.mu.Unlock()
		return nil, f.RefreshErr
	}
	tokens := *f.RefreshTokens
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &tokens, nil
}

func (f *Fake) ListEvents(ctx context.Context, accessToken, calendarID string, w provider.Window) ([]*provider.Event, error) {
	f.mu.Lock()
	gate := f.ListGate
	f.listCalls++
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.ErrByMonth[w.Label()]; ok {
		return nil, err
	}
	return f.EventsByMonth[w.Label()], nil
}

func (f *Fake) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}
