package gate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/cmd/internal/auth/gate"
	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/auth/session/sessiontest"
)

// backend accepts only "Bearer <valid>" and records every authorized request.
type backend struct {
	mu     sync.Mutex
	valid  string
	hits   int
	order  []string
	bodies []string
	onHit  func(r *http.Request)
	srv    *httptest.Server
}

func newBackend(t *testing.T, valid string) *backend {
	t.Helper()

	b := &backend{valid: valid}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		b.mu.Lock()
		b.hits++
		onHit := b.onHit
		ok := r.Header.Get("Authorization") == "Bearer "+b.valid
		if ok {
			b.order = append(b.order, r.URL.Path)
		}
		b.bodies = append(b.bodies, string(body))
		b.mu.Unlock()

		if onHit != nil {
			onHit(r)
		}
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) snapshot() (hits int, order, bodies []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits, append([]string(nil), b.order...), append([]string(nil), b.bodies...)
}

type fixture struct {
	store   *session.MemoryStore
	renewer *sessiontest.Renewer
	gate    *gate.Gate
	client  *http.Client
	queued  chan struct{}

	mu      sync.Mutex
	expired []string
}

func newFixture(t *testing.T, b *backend, renewer *sessiontest.Renewer) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:   session.NewMemoryStore(),
		renewer: renewer,
		queued:  make(chan struct{}, 16),
	}
	mgr := session.NewManager(session.DefaultConfig(), f.store, renewer, log)
	f.gate = gate.New(f.store, mgr,
		gate.WithBase(b.srv.Client().Transport),
		gate.WithLogger(log),
		gate.WithQueueObserver(func() { f.queued <- struct{}{} }),
		gate.WithExpireHook(func(reason string) {
			f.mu.Lock()
			f.expired = append(f.expired, reason)
			f.mu.Unlock()
		}),
	)
	f.client = f.gate.Client()
	return f
}

func (f *fixture) expiredReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...)
}

func (f *fixture) seed(t *testing.T, at, rt string) {
	t.Helper()
	if err := f.store.Save(context.Background(), session.Session{AccessToken: at, RenewalToken: rt}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

type outcome struct {
	path   string
	status int
	body   string
	err    error
}

func (f *fixture) get(ctx context.Context, url, path string, out chan<- outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+path, nil)
	if err != nil {
		out <- outcome{path: path, err: err}
		return
	}
	res, err := f.client.Do(req)
	if err != nil {
		out <- outcome{path: path, err: err}
		return
	}
	defer func() { _ = res.Body.Close() }()
	body, _ := io.ReadAll(res.Body)
	out <- outcome{path: path, status: res.StatusCode, body: string(body)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitQueued(t *testing.T, f *fixture) {
	t.Helper()
	select {
	case <-f.queued:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a queued call")
	}
}

func collect(t *testing.T, out <-chan outcome, n int) map[string]outcome {
	t.Helper()
	got := make(map[string]outcome, n)
	for i := 0; i < n; i++ {
		select {
		case o := <-out:
			got[o.path] = o
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out collecting results (%d/%d)", i, n)
		}
	}
	return got
}

func TestGate_ConcurrentUnauthorizedShareOneRenewal(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-new")
	release := make(chan struct{})
	f := newFixture(t, b, &sessiontest.Renewer{
		Gate: release,
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{AccessToken: "at-new"}, nil
		},
	})
	f.seed(t, "at-old", "rt-123")

	ctx := context.Background()
	out := make(chan outcome, 3)

	go f.get(ctx, b.srv.URL, "/a", out)
	waitFor(t, "renewal call", func() bool { return len(f.renewer.Calls()) == 1 })

	go f.get(ctx, b.srv.URL, "/b", out)
	waitQueued(t, f)
	go f.get(ctx, b.srv.URL, "/c", out)
	waitQueued(t, f)

	if !f.gate.Refreshing() || f.gate.Pending() != 2 {
		t.Fatalf("expected refreshing with 2 pending, got refreshing=%v pending=%d", f.gate.Refreshing(), f.gate.Pending())
	}

	close(release)
	got := collect(t, out, 3)

	for _, p := range []string{"/a", "/b", "/c"} {
		o := got[p]
		if o.err != nil || o.status != http.StatusOK || o.body != p {
			t.Fatalf("%s: status=%d body=%q err=%v", p, o.status, o.body, o.err)
		}
	}

	if calls := f.renewer.Calls(); len(calls) != 1 || calls[0] != "rt-123" {
		t.Fatalf("expected exactly one renewal with rt-123, got %v", calls)
	}
	_, order, _ := b.snapshot()
	if strings.Join(order, ",") != "/a,/b,/c" {
		t.Fatalf("replay order=%v want /a,/b,/c", order)
	}
	if got := f.store.Load(ctx).AccessToken; got != "at-new" {
		t.Fatalf("store not updated: %q", got)
	}
	if len(f.expiredReasons()) != 0 {
		t.Fatalf("expire hook must not run on success: %v", f.expiredReasons())
	}
}

func TestGate_RenewalFailureRejectsEveryCallOnce(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "never")
	release := make(chan struct{})
	f := newFixture(t, b, &sessiontest.Renewer{
		Gate: release,
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{}, errors.New("invalid renewal token")
		},
	})
	f.seed(t, "at-old", "rt-123")

	ctx := context.Background()
	out := make(chan outcome, 3)

	go f.get(ctx, b.srv.URL, "/a", out)
	waitFor(t, "renewal call", func() bool { return len(f.renewer.Calls()) == 1 })
	go f.get(ctx, b.srv.URL, "/b", out)
	waitQueued(t, f)
	go f.get(ctx, b.srv.URL, "/c", out)
	waitQueued(t, f)

	close(release)
	got := collect(t, out, 3)

	for p, o := range got {
		if !errors.Is(o.err, gate.ErrUnauthorized) || !errors.Is(o.err, session.ErrRenewalRejected) {
			t.Fatalf("%s: expected unauthorized renewal rejection, got %v", p, o.err)
		}
	}
	if n := len(f.renewer.Calls()); n != 1 {
		t.Fatalf("expected one renewal attempt, got %d", n)
	}
	if r := f.expiredReasons(); len(r) != 1 || r[0] != gate.ReasonRenewalFailed {
		t.Fatalf("expire hook reasons=%v", r)
	}
	if f.gate.Refreshing() || f.gate.Pending() != 0 {
		t.Fatalf("gate must return to idle")
	}
}

func TestGate_LateUnauthorizedAfterFailedRenewalDoesNotRenewAgain(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "never")
	release := make(chan struct{})
	f := newFixture(t, b, &sessiontest.Renewer{
		Gate: release,
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{}, errors.New("invalid renewal token")
		},
	})
	f.seed(t, "at-old", "rt-123")

	// /b was sent with the same token but its 401 lands only after the expire hook ran.
	b.mu.Lock()
	b.onHit = func(r *http.Request) {
		if r.URL.Path != "/b" {
			return
		}
		deadline := time.Now().Add(3 * time.Second)
		for len(f.expiredReasons()) == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	b.mu.Unlock()

	ctx := context.Background()
	out := make(chan outcome, 2)

	go f.get(ctx, b.srv.URL, "/a", out)
	waitFor(t, "renewal call", func() bool { return len(f.renewer.Calls()) == 1 })
	go f.get(ctx, b.srv.URL, "/b", out)
	waitFor(t, "/b sent", func() bool { hits, _, _ := b.snapshot(); return hits == 2 })

	close(release)
	got := collect(t, out, 2)

	for p, o := range got {
		if !errors.Is(o.err, gate.ErrUnauthorized) || !errors.Is(o.err, session.ErrRenewalRejected) {
			t.Fatalf("%s: expected unauthorized renewal rejection, got %v", p, o.err)
		}
	}
	if n := len(f.renewer.Calls()); n != 1 {
		t.Fatalf("expected one renewal attempt, got %d", n)
	}
	if r := f.expiredReasons(); len(r) != 1 || r[0] != gate.ReasonRenewalFailed {
		t.Fatalf("expire hook reasons=%v", r)
	}
}

func TestGate_MissingRenewalTokenMakesNoRefreshCall(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-valid")
	f := newFixture(t, b, &sessiontest.Renewer{})

	out := make(chan outcome, 1)
	f.get(context.Background(), b.srv.URL, "/orders", out)
	o := <-out

	if !errors.Is(o.err, session.ErrMissingCredential) || !errors.Is(o.err, gate.ErrUnauthorized) {
		t.Fatalf("expected missing credential, got %v", o.err)
	}
	if n := len(f.renewer.Calls()); n != 0 {
		t.Fatalf("expected zero refresh calls, got %d", n)
	}
	if r := f.expiredReasons(); len(r) != 1 || r[0] != gate.ReasonMissingCredential {
		t.Fatalf("expire hook reasons=%v", r)
	}
}

func TestGate_RetriesAtMostOnce(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "never")
	f := newFixture(t, b, &sessiontest.Renewer{
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{AccessToken: "at-new"}, nil
		},
	})
	f.seed(t, "at-old", "rt-1")

	out := make(chan outcome, 1)
	f.get(context.Background(), b.srv.URL, "/cart", out)
	o := <-out

	if o.err != nil || o.status != http.StatusUnauthorized {
		t.Fatalf("expected the replayed 401 to surface, got status=%d err=%v", o.status, o.err)
	}
	hits, _, _ := b.snapshot()
	if hits != 2 {
		t.Fatalf("expected original + one replay, got %d hits", hits)
	}
	if n := len(f.renewer.Calls()); n != 1 {
		t.Fatalf("expected one renewal, got %d", n)
	}
}

func TestGate_ReplayResendsBody(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-new")
	f := newFixture(t, b, &sessiontest.Renewer{
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{AccessToken: "at-new"}, nil
		},
	})
	f.seed(t, "at-old", "rt-1")

	// A reader type http.NewRequest does not know, so GetBody is unset.
	body := struct{ io.Reader }{strings.NewReader(`{"sku":"A-1","qty":2}`)}
	req, err := http.NewRequest(http.MethodPost, b.srv.URL+"/cart/items", body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	res, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_ = res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}
	_, _, bodies := b.snapshot()
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"sku":"A-1","qty":2}` {
		t.Fatalf("body not replayed: %q", bodies)
	}
}

func TestGate_StaleTokenReplaysWithoutRenewal(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-new")
	f := newFixture(t, b, &sessiontest.Renewer{})
	f.seed(t, "at-old", "rt-1")

	// Another path renews while the first call is in flight.
	var once sync.Once
	b.mu.Lock()
	b.onHit = func(*http.Request) {
		once.Do(func() {
			_ = f.store.Save(context.Background(), session.Session{AccessToken: "at-new", RenewalToken: "rt-2"})
		})
	}
	b.mu.Unlock()

	out := make(chan outcome, 1)
	f.get(context.Background(), b.srv.URL, "/profile", out)
	o := <-out

	if o.err != nil || o.status != http.StatusOK {
		t.Fatalf("status=%d err=%v", o.status, o.err)
	}
	if n := len(f.renewer.Calls()); n != 0 {
		t.Fatalf("stale replay must not renew, got %d calls", n)
	}
}

func TestGate_CanceledWaiterIsSkipped(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-new")
	release := make(chan struct{})
	f := newFixture(t, b, &sessiontest.Renewer{
		Gate: release,
		Fn: func(string) (session.Tokens, error) {
			return session.Tokens{AccessToken: "at-new"}, nil
		},
	})
	f.seed(t, "at-old", "rt-1")

	out := make(chan outcome, 2)
	go f.get(context.Background(), b.srv.URL, "/a", out)
	waitFor(t, "renewal call", func() bool { return len(f.renewer.Calls()) == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	go f.get(ctx, b.srv.URL, "/b", out)
	waitQueued(t, f)
	cancel()

	first := <-out
	if first.path != "/b" || !errors.Is(first.err, context.Canceled) {
		t.Fatalf("expected canceled /b first, got %+v", first)
	}

	close(release)
	second := <-out
	if second.path != "/a" || second.status != http.StatusOK {
		t.Fatalf("expected /a to succeed, got %+v", second)
	}

	waitFor(t, "queue drained", func() bool { return !f.gate.Refreshing() })
	time.Sleep(20 * time.Millisecond)
	if _, order, _ := b.snapshot(); strings.Join(order, ",") != "/a" {
		t.Fatalf("canceled call must not be replayed, order=%v", order)
	}
}

func TestGate_PassesThroughAuthorizedCalls(t *testing.T) {
	t.Parallel()

	b := newBackend(t, "at-ok")
	f := newFixture(t, b, &sessiontest.Renewer{})
	f.seed(t, "at-ok", "rt-1")

	out := make(chan outcome, 1)
	f.get(context.Background(), b.srv.URL, "/catalog", out)
	if o := <-out; o.status != http.StatusOK || o.body != "/catalog" {
		t.Fatalf("status=%d err=%v", o.status, o.err)
	}
	if len(f.renewer.Calls()) != 0 {
		t.Fatalf("authorized call must not renew")
	}
}
