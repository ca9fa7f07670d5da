// Package gate attaches the access token to outgoing calls and recovers from 401 responses
// with a single shared renewal.
//
// While a renewal is in flight, further 401s are queued in arrival order. On success the
// original call is replayed first, then each queued call, sequentially, with the new token.
// On failure every one of them fails with the same error and the expire hook runs once.
// Each call is retried at most once.
package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"storefront/cmd/internal/auth/session"
)

// Renewer is the single renewal funnel. *session.Manager implements it.
type Renewer interface {
	RenewStored(ctx context.Context) (session.Session, error)
}

// TokenSource returns the current session. session.Store implements it.
type TokenSource interface {
	Load(ctx context.Context) session.Session
}

// Gate is an http.RoundTripper.
type Gate struct {
	base   http.RoundTripper
	tokens TokenSource
	renew  Renewer
	log    *slog.Logger

	onExpire func(reason string)
	onQueued func()

	mu         sync.Mutex
	refreshing bool
	pending    []*pendingCall

	// rejected is the access token whose renewal last failed, with that failure.
	rejected    string
	rejectedErr error
}

type pendingCall struct {
	req  *http.Request
	done chan result
}

type result struct {
	res *http.Response
	err error
}

// Option configures a Gate.
type Option func(*Gate)

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(g *Gate) {
		if rt != nil {
			g.base = rt
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithExpireHook registers the hook run once per failed renewal with the expiry reason.
func WithExpireHook(fn func(reason string)) Option {
	return func(g *Gate) { g.onExpire = fn }
}

// WithQueueObserver registers a hook run each time a call is queued behind a renewal.
func WithQueueObserver(fn func()) Option {
	return func(g *Gate) { g.onQueued = fn }
}

// New constructs a Gate.
func New(tokens TokenSource, renew Renewer, opts ...Option) *Gate {
	g := &Gate{
		base:   http.DefaultTransport,
		tokens: tokens,
		renew:  renew,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	return g
}

// Client returns an http.Client that sends through the gate.
func (g *Gate) Client() *http.Client {
	return &http.Client{Transport: g}
}

// Refreshing reports whether a renewal is in flight.
func (g *Gate) Refreshing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshing
}

// Pending returns the number of calls queued behind the in-flight renewal.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// RoundTrip implements http.RoundTripper.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		defer func() { _ = req.Body.Close() }()
	}

	sent := g.tokens.Load(req.Context()).AccessToken
	res, err := g.send(req, sent)
	if err != nil || res.StatusCode != http.StatusUnauthorized {
		return res, err
	}
	discard(res)

	return g.recover(req, sent)
}

func (g *Gate) recover(req *http.Request, sent string) (*http.Response, error) {
	ctx := req.Context()

	g.mu.Lock()
	if g.refreshing {
		pc := &pendingCall{req: req, done: make(chan result, 1)}
		g.pending = append(g.pending, pc)
		n := len(g.pending)
		g.mu.Unlock()

		if g.onQueued != nil {
			g.onQueued()
		}
		g.log.Debug("gate.refresh.queued", "method", req.Method, "path", req.URL.Path, "position", n)
		return wait(ctx, pc)
	}

	// A renewal finished after this call was sent: replay with the current token.
	if cur := g.tokens.Load(ctx).AccessToken; cur != "" && cur != sent {
		g.mu.Unlock()
		g.log.Debug("gate.replay.stale", "method", req.Method, "path", req.URL.Path)
		return g.send(req, cur)
	}

	// Sent before the last renewal failed: that failure already settled it.
	if g.rejectedErr != nil && sent == g.rejected {
		err := g.rejectedErr
		g.mu.Unlock()
		g.log.Debug("gate.replay.rejected", "method", req.Method, "path", req.URL.Path)
		return nil, err
	}

	g.refreshing = true
	g.mu.Unlock()

	g.log.Info("gate.refresh.start", "method", req.Method, "path", req.URL.Path)
	s, renewErr := g.renew.RenewStored(context.WithoutCancel(ctx))

	var err error
	if renewErr != nil {
		err = fmt.Errorf("%w: %w", ErrUnauthorized, renewErr)
	}

	g.mu.Lock()
	queued := g.pending
	g.pending = nil
	g.refreshing = false
	g.rejected, g.rejectedErr = sent, err
	g.mu.Unlock()

	if renewErr != nil {
		for _, pc := range queued {
			pc.done <- result{err: err}
		}

		reason := ReasonRenewalFailed
		if errors.Is(renewErr, session.ErrMissingCredential) {
			reason = ReasonMissingCredential
		}
		g.log.Warn("gate.refresh.fail", "reason", reason, "rejected_calls", len(queued)+1, "err", renewErr)
		if g.onExpire != nil {
			g.onExpire(reason)
		}
		return nil, err
	}

	g.log.Info("gate.refresh.ok", "replayed_calls", len(queued)+1)

	res, err := g.send(req, s.AccessToken)
	if len(queued) > 0 {
		go g.replayQueued(queued, s.AccessToken)
	}
	return res, err
}

// replayQueued resends queued calls one at a time in arrival order.
func (g *Gate) replayQueued(queued []*pendingCall, token string) {
	for _, pc := range queued {
		if err := pc.req.Context().Err(); err != nil {
			pc.done <- result{err: err}
			continue
		}
		res, err := g.send(pc.req, token)
		pc.done <- result{res: res, err: err}
	}
}

func wait(ctx context.Context, pc *pendingCall) (*http.Response, error) {
	select {
	case r := <-pc.done:
		return r.res, r.err
	case <-ctx.Done():
		// Every pending call receives exactly one result; release it when it comes.
		go func() {
			if r := <-pc.done; r.res != nil {
				discard(r.res)
			}
		}()
		return nil, ctx.Err()
	}
}

// send clones req, attaches token and sends it through the base transport.
func (g *Gate) send(req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return g.base.RoundTrip(out)
}

// rewindable makes sure req can be sent twice.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(buf))
	return out, nil
}

func discard(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
