package badge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/offset"
)

type memoryStore struct {
	mu     sync.Mutex
	states map[string]UserState
	saves  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]UserState)}
}

func (m *memoryStore) LoadRewardStates(ctx context.Context) (map[string]UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]UserState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) SaveRewardState(ctx context.Context, state UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.UserID] = state
	m.saves++
	return nil
}

func testLedger(t *testing.T) (*Ledger, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	l, err := NewLedger(context.Background(), DefaultCatalog(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l, store
}

func monthlyRecord(tons float64) offset.Record {
	return offset.Record{
		UserID:      "user-1",
		Period:      offset.Monthly,
		TotalOffset: decimal.NewFromFloat(tons),
		GeneratedAt: time.Now().UTC(),
	}
}

func TestOffsetToBadgeScenario(t *testing.T) {
	l, _ := testLedger(t)

	rec := monthlyRecord(5.0)
	eligible := l.CheckEligibility("user-1", rec, Facts{})

	found := false
	for _, b := range eligible {
		if b.ID == "monthly-saver" {
			found = true
		}
	}
	if !found {
		t.Fatalf("5.0 t monthly record should qualify monthly-saver, got %+v", eligible)
	}

	awarded, err := l.Award(context.Background(), "user-1", "monthly-saver")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if !awarded {
		t.Fatal("first award should report true")
	}

	stats := l.Stats("user-1")
	if stats.TotalPoints != 250 {
		t.Fatalf("expected 250 points, got %d", stats.TotalPoints)
	}
	if stats.TotalBadges != 1 {
		t.Fatalf("expected exactly one unlocked badge, got %d", stats.TotalBadges)
	}
}

func TestAwardIdempotent(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()

	if awarded, _ := l.Award(ctx, "user-1", "first-ton"); !awarded {
		t.Fatal("first award should succeed")
	}
	if awarded, _ := l.Award(ctx, "user-1", "first-ton"); awarded {
		t.Fatal("second award must be a no-op")
	}

	stats := l.Stats("user-1")
	if stats.TotalPoints != 100 {
		t.Fatalf("points must not be double-credited: got %d", stats.TotalPoints)
	}
	if stats.TotalBadges != 1 {
		t.Fatalf("badge must be present exactly once: got %d", stats.TotalBadges)
	}
}

func TestAwardUnknownBadge(t *testing.T) {
	l, _ := testLedger(t)
	awarded, err := l.Award(context.Background(), "user-1", "no-such-badge")
	if err != nil {
		t.Fatalf("unknown badge must not error: %v", err)
	}
	if awarded {
		t.Fatal("unknown badge must be a no-op returning false")
	}
}

func TestAwardConcurrentSameBadge(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()

	const workers = 16
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			awarded, err := l.Award(ctx, "user-1", "ten-tons")
			if err != nil {
				t.Errorf("Award: %v", err)
			}
			results <- awarded
		}()
	}
	wg.Wait()
	close(results)

	awardedCount := 0
	for r := range results {
		if r {
			awardedCount++
		}
	}
	if awardedCount != 1 {
		t.Fatalf("exactly one concurrent award should win, got %d", awardedCount)
	}
	if stats := l.Stats("user-1"); stats.TotalPoints != 1000 {
		t.Fatalf("concurrent awards double-credited points: %d", stats.TotalPoints)
	}
}

func TestEligibilityCategories(t *testing.T) {
	l, _ := testLedger(t)

	// A yearly badge must not trigger on a monthly record even above threshold.
	rec := monthlyRecord(60)
	for _, b := range l.CheckEligibility("user-1", rec, Facts{}) {
		if b.Category == CategoryYearly {
			t.Fatalf("yearly badge %s matched a monthly record", b.ID)
		}
	}

	yearly := offset.Record{Period: offset.Yearly, TotalOffset: decimal.NewFromInt(60)}
	foundYearly := false
	for _, b := range l.CheckEligibility("user-1", yearly, Facts{}) {
		if b.ID == "yearly-guardian" {
			foundYearly = true
		}
	}
	if !foundYearly {
		t.Fatal("60 t yearly record should qualify yearly-guardian")
	}

	facts := Facts{LifetimeOffsetTons: decimal.NewFromInt(12)}
	foundMilestone := false
	for _, b := range l.CheckEligibility("user-1", offset.Record{Period: offset.Daily}, facts) {
		if b.ID == "ten-tons" {
			foundMilestone = true
		}
		if b.ID == "hundred-tons" {
			t.Fatal("hundred-tons should not qualify at 12 t lifetime")
		}
	}
	if !foundMilestone {
		t.Fatal("12 t lifetime should qualify ten-tons")
	}
}

func TestEligibilitySpecialFacts(t *testing.T) {
	l, _ := testLedger(t)

	none := l.CheckEligibility("user-1", offset.Record{Period: offset.Daily}, Facts{})
	for _, b := range none {
		if b.Category == CategorySpecial {
			t.Fatalf("special badge %s matched without its fact", b.ID)
		}
	}

	facts := Facts{Flags: map[string]bool{"governance_participant": true}}
	found := false
	for _, b := range l.CheckEligibility("user-1", offset.Record{Period: offset.Daily}, facts) {
		if b.ID == "governance-voice" {
			found = true
		}
	}
	if !found {
		t.Fatal("governance_participant fact should qualify governance-voice")
	}
}

func TestProgressSortingAndETA(t *testing.T) {
	l, _ := testLedger(t)

	// first-ton would sit capped at 100%; unlock it so ten-tons leads.
	if _, err := l.Award(context.Background(), "user-1", "first-ton"); err != nil {
		t.Fatalf("Award: %v", err)
	}

	rec := monthlyRecord(4)
	facts := Facts{LifetimeOffsetTons: decimal.NewFromInt(9)}

	entries := l.Progress("user-1", rec, facts, decimal.NewFromFloat(0.5))
	if len(entries) == 0 {
		t.Fatal("expected progress entries")
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].Percentage.GreaterThan(entries[i-1].Percentage) {
			t.Fatalf("entries not sorted descending by percentage at index %d", i)
		}
	}

	top := entries[0]
	if top.Badge.ID != "ten-tons" {
		t.Fatalf("ten-tons at 90%% should lead, got %s at %s%%", top.Badge.ID, top.Percentage)
	}
	if top.DaysToUnlock == nil {
		t.Fatal("a positive daily rate should produce a time estimate")
	}
	// 1 ton remaining at 0.5 t/day
	if !top.DaysToUnlock.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 days to unlock, got %s", top.DaysToUnlock)
	}
}

func TestProgressOmitsETAWithoutRate(t *testing.T) {
	l, _ := testLedger(t)
	entries := l.Progress("user-1", monthlyRecord(1), Facts{}, decimal.Zero)
	for _, e := range entries {
		if e.DaysToUnlock != nil {
			t.Fatalf("zero rate must omit the estimate, got %s for %s", e.DaysToUnlock, e.Badge.ID)
		}
	}
}

func TestProgressCapsAtHundred(t *testing.T) {
	l, _ := testLedger(t)
	entries := l.Progress("user-1", monthlyRecord(500), Facts{}, decimal.Zero)
	hundred := decimal.NewFromInt(100)
	for _, e := range entries {
		if e.Percentage.GreaterThan(hundred) {
			t.Fatalf("percentage must cap at 100, got %s", e.Percentage)
		}
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	l1, err := NewLedger(ctx, DefaultCatalog(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if _, err := l1.Award(ctx, "user-1", "first-ton"); err != nil {
		t.Fatalf("Award: %v", err)
	}

	l2, err := NewLedger(ctx, DefaultCatalog(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger (reload): %v", err)
	}
	stats := l2.Stats("user-1")
	if stats.TotalPoints != 100 || stats.TotalBadges != 1 {
		t.Fatalf("state did not survive reload: %+v", stats)
	}

	// The reloaded ledger must still refuse to double-credit.
	if awarded, _ := l2.Award(ctx, "user-1", "first-ton"); awarded {
		t.Fatal("reloaded ledger double-awarded a badge")
	}
}

func TestResetUser(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()

	if _, err := l.Award(ctx, "user-1", "first-ton"); err != nil {
		t.Fatalf("Award: %v", err)
	}
	if err := l.ResetUser(ctx, "user-1"); err != nil {
		t.Fatalf("ResetUser: %v", err)
	}

	stats := l.Stats("user-1")
	if stats.TotalPoints != 0 || stats.TotalBadges != 0 {
		t.Fatalf("reset should clear state: %+v", stats)
	}

	// Reset is a true reset: the badge can be earned again afterwards.
	if awarded, _ := l.Award(ctx, "user-1", "first-ton"); !awarded {
		t.Fatal("badge should be awardable again after administrative reset")
	}
}

func TestStatsRarityCounts(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()

	for _, id := range []string{"first-ton", "monthly-saver", "ten-tons"} {
		if _, err := l.Award(ctx, "user-1", id); err != nil {
			t.Fatalf("Award %s: %v", id, err)
		}
	}

	stats := l.Stats("user-1")
	if stats.ByRarity[RarityCommon] != 2 {
		t.Fatalf("expected 2 common badges, got %d", stats.ByRarity[RarityCommon])
	}
	if stats.ByRarity[RarityRare] != 1 {
		t.Fatalf("expected 1 rare badge, got %d", stats.ByRarity[RarityRare])
	}
	if len(stats.RecentUnlocks) != 3 {
		t.Fatalf("expected 3 recent unlocks, got %d", len(stats.RecentUnlocks))
	}
}
