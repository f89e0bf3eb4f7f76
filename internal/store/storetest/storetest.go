// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
)

// Factory returns an empty store. It should register cleanup with t.
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAssignsIncreasingIDs", testCreateAssignsIDs},
		{"CreateDuplicateToken", testCreateDuplicate},
		{"GetRoundTrip", testGetRoundTrip},
		{"GetNotFound", testGetNotFound},
		{"ConsumeSingleUse", testConsumeSingleUse},
		{"ConsumeMultiUse", testConsumeMultiUse},
		{"ConsumeExpired", testConsumeExpired},
		{"ConsumeExpiredAndExhausted", testConsumeExpiredAndExhausted},
		{"ConsumeNotFound", testConsumeNotFound},
		{"ConsumeConcurrentExactlyOnce", testConsumeConcurrent},
		{"ListFilters", testListFilters},
		{"SearchLiveRecentFirst", testSearch},
		{"SearchLiteralWildcards", testSearchWildcards},
		{"SearchFoldsASCIIOnly", testSearchNonASCII},
		{"SweepIdempotent", testSweep},
		{"Clear", testClear},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var base = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func newKey(token, name string, created time.Time, validity time.Duration, maxUses int) *model.Key {
	return &model.Key{
		Name:      name,
		Token:     token,
		Format:    model.FormatAlphanumeric,
		Length:    len(token),
		CreatedAt: created,
		ExpiresAt: created.Add(validity),
		MaxUses:   maxUses,
	}
}

func mustCreate(t *testing.T, s store.Store, k *model.Key) *model.Key {
	t.Helper()
	if err := s.Create(context.Background(), k); err != nil {
		t.Fatalf("Create(%q): %v", k.Token, err)
	}
	return k
}

func tokens(keys []model.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Token
	}
	return out
}

func assertTokens(t *testing.T, got []model.Key, want ...string) {
	t.Helper()
	g := tokens(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Errorf("tokens = %v, want %v", g, want)
	}
}

// ---------------------------------------------------------------------------
// Create / Get
// ---------------------------------------------------------------------------

func testCreateAssignsIDs(t *testing.T, s store.Store) {
	var last int64
	for i := 0; i < 3; i++ {
		k := mustCreate(t, s, newKey(fmt.Sprintf("tok-%d", i), "k", base, time.Hour, 1))
		if k.ID <= last {
			t.Fatalf("ID %d not greater than previous %d", k.ID, last)
		}
		last = k.ID
	}
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newKey("dup-token", "first", base, time.Hour, 1))

	err := s.Create(ctx, newKey("dup-token", "second", base.Add(time.Second), time.Hour, 1))
	if !errors.Is(err, store.ErrDuplicateToken) {
		t.Fatalf("Create duplicate: err = %v, want ErrDuplicateToken", err)
	}

	all, err := s.List(ctx, store.FilterAll, base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].Name != "first" {
		t.Errorf("after duplicate create, keys = %+v, want only the first", all)
	}
}

func testGetRoundTrip(t *testing.T, s store.Store) {
	in := newKey("FREE-0123456789-abcdef01", "round trip", base, 24*time.Hour, 2)
	in.Format = model.FormatBash
	mustCreate(t, s, in)

	got, err := s.Get(context.Background(), in.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != in.ID || got.Name != in.Name || got.Token != in.Token || got.Format != in.Format ||
		got.Length != in.Length || got.UsedCount != 0 || got.MaxUses != 2 {
		t.Errorf("Get = %+v, want %+v", got, in)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) || !got.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, in.CreatedAt, in.ExpiresAt)
	}
}

func testGetNotFound(t *testing.T, s store.Store) {
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Consume
// ---------------------------------------------------------------------------

func testConsumeSingleUse(t *testing.T, s store.Store) {
	ctx := context.Background()
	k := mustCreate(t, s, newKey("single", "once", base, 24*time.Hour, 1))
	now := base.Add(time.Minute)

	got, err := s.Consume(ctx, k.Token, now)
	if err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if got.UsedCount != 1 || got.UsesRemaining() != 0 {
		t.Errorf("after consume: used=%d remaining=%d, want 1/0", got.UsedCount, got.UsesRemaining())
	}

	got, err = s.Consume(ctx, k.Token, now)
	if !errors.Is(err, store.ErrExhausted) {
		t.Fatalf("second Consume: err = %v, want ErrExhausted", err)
	}
	if got == nil || got.UsedCount != 1 {
		t.Errorf("second Consume returned %+v, want the unchanged key", got)
	}
}

func testConsumeMultiUse(t *testing.T, s store.Store) {
	ctx := context.Background()
	k := mustCreate(t, s, newKey("multi", "thrice", base, time.Hour, 3))

	for i := 1; i <= 3; i++ {
		got, err := s.Consume(ctx, k.Token, base)
		if err != nil {
			t.Fatalf("Consume #%d: %v", i, err)
		}
		if got.UsedCount != i {
			t.Errorf("Consume #%d: used = %d", i, got.UsedCount)
		}
	}
	if _, err := s.Consume(ctx, k.Token, base); !errors.Is(err, store.ErrExhausted) {
		t.Errorf("Consume #4: err = %v, want ErrExhausted", err)
	}
}

func testConsumeExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	k := mustCreate(t, s, newKey("late", "late", base, time.Hour, 1))

	got, err := s.Consume(ctx, k.Token, k.ExpiresAt)
	if !errors.Is(err, store.ErrExpired) {
		t.Fatalf("Consume at expiry: err = %v, want ErrExpired", err)
	}
	if got == nil || got.UsedCount != 0 {
		t.Errorf("Consume at expiry returned %+v, want unchanged key", got)
	}

	after, err := s.Get(ctx, k.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.UsedCount != 0 {
		t.Errorf("used = %d after expired consume, want 0", after.UsedCount)
	}
}

func testConsumeExpiredAndExhausted(t *testing.T, s store.Store) {
	ctx := context.Background()
	k := mustCreate(t, s, newKey("both", "both", base, time.Hour, 1))
	if _, err := s.Consume(ctx, k.Token, base); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := s.Consume(ctx, k.Token, base.Add(2*time.Hour)); !errors.Is(err, store.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired to win over ErrExhausted", err)
	}
}

func testConsumeNotFound(t *testing.T, s store.Store) {
	got, err := s.Consume(context.Background(), "nope", base)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if got != nil {
		t.Errorf("key = %+v, want nil", got)
	}
}

func testConsumeConcurrent(t *testing.T, s store.Store) {
	const workers = 16
	for _, maxUses := range []int{1, 3} {
		t.Run(fmt.Sprintf("maxUses=%d", maxUses), func(t *testing.T) {
			ctx := context.Background()
			k := mustCreate(t, s, newKey(fmt.Sprintf("race-%d", maxUses), "race", base, time.Hour, maxUses))

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				exhausted int
				other     []error
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := s.Consume(ctx, k.Token, base)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, store.ErrExhausted):
						exhausted++
					default:
						other = append(other, err)
					}
				}()
			}
			close(start)
			wg.Wait()

			if len(other) > 0 {
				t.Fatalf("unexpected errors: %v", other)
			}
			if successes != maxUses {
				t.Errorf("successes = %d, want %d", successes, maxUses)
			}
			if exhausted != workers-maxUses {
				t.Errorf("exhausted = %d, want %d", exhausted, workers-maxUses)
			}
			final, err := s.Get(ctx, k.Token)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if final.UsedCount != maxUses {
				t.Errorf("final used = %d, want %d", final.UsedCount, maxUses)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// List / Search
// ---------------------------------------------------------------------------

func testListFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Hour)

	mustCreate(t, s, newKey("old-expired", "expired", base.Add(-48*time.Hour), 24*time.Hour, 1))
	used := mustCreate(t, s, newKey("used-up", "used", base, 24*time.Hour, 1))
	mustCreate(t, s, newKey("fresh", "live", base.Add(time.Minute), 24*time.Hour, 1))
	if _, err := s.Consume(ctx, used.Token, now); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	all, err := s.List(ctx, store.FilterAll, now)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	assertTokens(t, all, "fresh", "used-up", "old-expired")

	live, err := s.List(ctx, store.FilterLive, now)
	if err != nil {
		t.Fatalf("List live: %v", err)
	}
	assertTokens(t, live, "fresh")

	// The live view is point-in-time: past the fresh key's expiry it is gone.
	live, err = s.List(ctx, store.FilterLive, base.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("List live later: %v", err)
	}
	assertTokens(t, live)
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Hour)

	mustCreate(t, s, newKey("tok-one", "alpha-one", base, 24*time.Hour, 1))
	mustCreate(t, s, newKey("tok-two", "Alpha-Two", base.Add(time.Minute), 24*time.Hour, 1))
	mustCreate(t, s, newKey("tok-beta", "beta", base.Add(2*time.Minute), 24*time.Hour, 1))
	mustCreate(t, s, newKey("tok-old", "alpha-old", base.Add(-48*time.Hour), 24*time.Hour, 1))
	used := mustCreate(t, s, newKey("tok-used", "alpha-used", base.Add(3*time.Minute), 24*time.Hour, 1))
	if _, err := s.Consume(ctx, used.Token, now); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	got, err := s.Search(ctx, "ALPHA", 0, now)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	assertTokens(t, got, "tok-two", "tok-one")

	got, err = s.Search(ctx, "alpha", 1, now)
	if err != nil {
		t.Fatalf("Search limit 1: %v", err)
	}
	assertTokens(t, got, "tok-two")

	got, err = s.Search(ctx, "TOK-BE", 10, now)
	if err != nil {
		t.Fatalf("Search by token: %v", err)
	}
	assertTokens(t, got, "tok-beta")

	got, err = s.Search(ctx, "gamma", 10, now)
	if err != nil {
		t.Fatalf("Search no match: %v", err)
	}
	assertTokens(t, got)
}

func testSearchWildcards(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newKey("wild-1", "50% off", base, time.Hour, 1))
	mustCreate(t, s, newKey("wild-2", "a_b", base.Add(time.Second), time.Hour, 1))
	mustCreate(t, s, newKey("wild-3", "plain", base.Add(2*time.Second), time.Hour, 1))

	got, err := s.Search(ctx, "%", 0, base)
	if err != nil {
		t.Fatalf("Search %%: %v", err)
	}
	assertTokens(t, got, "wild-1")

	got, err = s.Search(ctx, "_", 0, base)
	if err != nil {
		t.Fatalf("Search _: %v", err)
	}
	assertTokens(t, got, "wild-2")
}

// testSearchNonASCII pins case folding to ASCII letters so every backend
// returns the same rows for accented queries.
func testSearchNonASCII(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newKey("umlaut-1", "ÄRGER report", base, time.Hour, 1))
	mustCreate(t, s, newKey("umlaut-2", "Ölfeld", base.Add(time.Second), time.Hour, 1))

	tests := []struct {
		query string
		want  []string
	}{
		{"ärger", nil},
		{"ÄRGER", []string{"umlaut-1"}},
		{"Ärger REPORT", []string{"umlaut-1"}},
		{"ölfeld", nil},
		{"ÖLFELD", []string{"umlaut-2"}},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.query, 0, base)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		assertTokens(t, got, tt.want...)
	}
}

// ---------------------------------------------------------------------------
// Sweep / Clear / Ping
// ---------------------------------------------------------------------------

func testSweep(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Hour)

	mustCreate(t, s, newKey("gone-1", "a", base.Add(-48*time.Hour), 24*time.Hour, 1))
	mustCreate(t, s, newKey("gone-2", "b", base, time.Hour, 1)) // expires exactly at now
	mustCreate(t, s, newKey("stays", "c", base, 24*time.Hour, 1))

	n, err := s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("first sweep removed %d, want 2", n)
	}

	n, err = s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired again: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep removed %d, want 0", n)
	}

	all, err := s.List(ctx, store.FilterAll, now)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	assertTokens(t, all, "stays")

	if _, err := s.Get(ctx, "gone-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("swept key still readable: %v", err)
	}
}

func testClear(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, newKey("c1", "a", base, time.Hour, 1))
	mustCreate(t, s, newKey("c2", "b", base, time.Hour, 1))

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, err := s.List(ctx, store.FilterAll, base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("after Clear, %d keys remain", len(all))
	}

	// Tokens are free again after a wipe.
	mustCreate(t, s, newKey("c1", "again", base, time.Hour, 1))
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
