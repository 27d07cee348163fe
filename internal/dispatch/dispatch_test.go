package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"socialsim/internal/agent"
	"socialsim/internal/machineupdate"
	logx "socialsim/pkg/logx"
)

var testAgent = agent.Agent{ID: "a1", Name: "Ada", Email: "ada@example.com", MachineID: "m-1"}

type recordingFeed struct {
	mu    sync.Mutex
	calls [][]any
	err   error
}

func (f *recordingFeed) SendAll(_ context.Context, method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]any{method}, args...))
	return f.err
}

type recordingUpdates struct {
	mu      sync.Mutex
	updates []machineupdate.MachineUpdate
	err     error
}

func (u *recordingUpdates) Create(_ context.Context, mu machineupdate.MachineUpdate) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, mu)
	return u.err
}

func TestPickFieldsReachesEveryField(t *testing.T) {
	t.Parallel()
	d := New(Config{}, Deps{Rand: rand.NewSource(1)}, logx.Nop())
	users := map[string]bool{}
	msgs := map[string]bool{}
	for i := 0; i < 2000; i++ {
		u, m := d.PickFields()
		users[u] = true
		msgs[m] = true
	}
	for _, f := range DefaultUserFields {
		if !users[f] {
			t.Fatalf("user field %q never picked", f)
		}
	}
	for _, f := range DefaultMessageFields {
		if !msgs[f] {
			t.Fatalf("message field %q never picked", f)
		}
	}
	if len(users) != 6 || len(msgs) != 6 {
		t.Fatalf("picked outside the pools: users=%v msgs=%v", users, msgs)
	}
}

func TestConfiguredPoolsOverrideDefaults(t *testing.T) {
	t.Parallel()
	d := New(Config{UserFields: []string{" who ", ""}, MessageFields: []string{"body"}}, Deps{}, logx.Nop())
	u, m := d.PickFields()
	if u != "who" || m != "body" {
		t.Fatalf("fields=%q,%q", u, m)
	}
}

func TestPostSuccessCodes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusCreated, false},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			var form url.Values
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method=%s", r.Method)
				}
				_ = r.ParseForm()
				form = r.PostForm
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			d := New(Config{PostEnabled: true, PostURL: srv.URL}, Deps{HTTP: srv.Client()}, logx.Nop())
			res := d.Dispatch(context.Background(), testAgent, "Went for a walk")
			if res.Posted != tc.ok {
				t.Fatalf("Posted=%t, want %t", res.Posted, tc.ok)
			}
			// The site shows the poster by display name; the email stays in the queue envelope.
			if got := form.Get(res.UserField); got != testAgent.Name {
				t.Fatalf("user=%q want %q (field %s)", got, testAgent.Name, res.UserField)
			}
			if form.Get(res.MsgField) != "Went for a walk" {
				t.Fatalf("form=%v (fields %s/%s)", form, res.UserField, res.MsgField)
			}
		})
	}
}

func TestPostFailureStillBroadcasts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	feed := &recordingFeed{}
	updates := &recordingUpdates{err: errors.New("queue down")}
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	d := New(Config{PostEnabled: true, PostURL: srv.URL, QueueEnabled: true},
		Deps{HTTP: srv.Client(), Updates: updates, Feed: feed, Now: func() time.Time { return now }},
		logx.Nop())

	res := d.Dispatch(context.Background(), testAgent, "Just had lunch")
	if res.Posted || res.Queued || !res.Broadcast {
		t.Fatalf("result=%s", res)
	}
	if len(feed.calls) != 1 {
		t.Fatalf("broadcasts=%d, want 1", len(feed.calls))
	}
	want := []any{"show", "1", "a1", "social", "Just had lunch", "2024-05-01T08:30:00Z"}
	for i, v := range want {
		if feed.calls[0][i] != v {
			t.Fatalf("broadcast[%d]=%v, want %v", i, feed.calls[0][i], v)
		}
	}
}

func TestQueueFailureStillBroadcasts(t *testing.T) {
	t.Parallel()
	feed := &recordingFeed{}
	updates := &recordingUpdates{err: errors.New("broker unreachable")}
	d := New(Config{QueueEnabled: true}, Deps{Updates: updates, Feed: feed}, logx.Nop())

	res := d.Dispatch(context.Background(), testAgent, "Back from the gym")
	if res.Posted || res.Queued || !res.Broadcast {
		t.Fatalf("result=%s", res)
	}
	if len(updates.updates) != 1 {
		t.Fatalf("queue attempts=%d, want 1", len(updates.updates))
	}
	if len(feed.calls) != 1 || feed.calls[0][4] != "Back from the gym" {
		t.Fatalf("broadcasts=%v", feed.calls)
	}
}

func TestTransportErrorStillBroadcasts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	feed := &recordingFeed{}
	d := New(Config{PostEnabled: true, PostURL: addr, PostTimeout: time.Second}, Deps{Feed: feed}, logx.Nop())
	res := d.Dispatch(context.Background(), testAgent, "x")
	if res.Posted || !res.Broadcast {
		t.Fatalf("result=%s", res)
	}
}

func TestQueueEnvelope(t *testing.T) {
	t.Parallel()
	updates := &recordingUpdates{}
	d := New(Config{QueueEnabled: true, PostURL: "http://social.local/post"}, Deps{Updates: updates}, logx.Nop())

	res := d.Dispatch(context.Background(), testAgent, "hello")
	if !res.Queued || res.Posted {
		t.Fatalf("result=%s", res)
	}
	if len(updates.updates) != 1 {
		t.Fatalf("updates=%d", len(updates.updates))
	}
	u := updates.updates[0]
	if u.MachineID != "m-1" || u.Username != "ada@example.com" || u.Type != machineupdate.TypeTimelinePartial {
		t.Fatalf("update=%+v", u)
	}
	tl, err := u.DecodeTimeline()
	if err != nil || len(tl.TimeLineHandlers) != 1 || len(tl.TimeLineHandlers[0].TimeLineEvents) != 1 {
		t.Fatalf("timeline=%+v err=%v", tl, err)
	}
}

func TestDisabledChannelsOnlyBroadcast(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { hits.Add(1) }))
	defer srv.Close()

	updates := &recordingUpdates{}
	feed := &recordingFeed{}
	d := New(Config{PostURL: srv.URL}, Deps{HTTP: srv.Client(), Updates: updates, Feed: feed}, logx.Nop())
	res := d.Dispatch(context.Background(), testAgent, "x")
	if res.Posted || res.Queued || !res.Broadcast {
		t.Fatalf("result=%s", res)
	}
	if hits.Load() != 0 || len(updates.updates) != 0 {
		t.Fatalf("disabled channels were used")
	}
}

func TestApplySwapsChannels(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := New(Config{}, Deps{HTTP: srv.Client()}, logx.Nop())
	if d.Dispatch(context.Background(), testAgent, "x").Posted {
		t.Fatalf("posted while disabled")
	}
	d.Apply(Config{PostEnabled: true, PostURL: srv.URL, PostRatePerSec: 100})
	if !d.Dispatch(context.Background(), testAgent, "x").Posted {
		t.Fatalf("not posted after Apply")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", hits.Load())
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	feed := &recordingFeed{}
	d := New(Config{PostEnabled: true, PostURL: srv.URL, PostRatePerSec: 0.001}, Deps{HTTP: srv.Client(), Feed: feed}, logx.Nop())
	if !d.Dispatch(context.Background(), testAgent, "first").Posted {
		t.Fatalf("first post should use the burst")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Dispatch(ctx, testAgent, "second")
	if res.Posted {
		t.Fatalf("second post should wait past the deadline")
	}
	if len(feed.calls) != 2 {
		t.Fatalf("broadcasts=%d, want 2", len(feed.calls))
	}
}
