package badge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/offset"
)

// Unlock records when a user earned a badge.
type Unlock struct {
	BadgeID    string    `json:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// UserState is the persisted per-user reward state. Points only ever grow
// outside of an explicit administrative reset.
type UserState struct {
	UserID   string               `json:"user_id"`
	Unlocked map[string]time.Time `json:"unlocked"`
	Points   int64                `json:"points"`
}

// Stats is a pure read projection over a user's ledger state.
type Stats struct {
	TotalBadges   int
	ByRarity      map[Rarity]int
	TotalPoints   int64
	RecentUnlocks []Unlock
}

// Facts carries the externally supplied inputs an eligibility check needs
// beyond the record itself: the cumulative lifetime offset for milestone
// badges and named boolean facts for special badges. The ledger never
// computes these.
type Facts struct {
	LifetimeOffsetTons decimal.Decimal
	Flags              map[string]bool
}

// ProgressEntry reports how close a user is to one still-locked badge.
// DaysToUnlock is nil when no daily rate was available.
type ProgressEntry struct {
	Badge        Badge
	Current      decimal.Decimal
	Threshold    decimal.Decimal
	Percentage   decimal.Decimal
	DaysToUnlock *decimal.Decimal
}

// Store persists per-user reward state across restarts.
type Store interface {
	LoadRewardStates(ctx context.Context) (map[string]UserState, error)
	SaveRewardState(ctx context.Context, state UserState) error
}

// Ledger owns per-user achievement state. Mutations for the same user are
// serialized through a per-user lock; reads for other users proceed
// without coordination.
type Ledger struct {
	catalog *Catalog
	store   Store
	logger  zerolog.Logger

	mu      sync.RWMutex
	states  map[string]*UserState
	userMus map[string]*sync.Mutex
}

// NewLedger constructs a ledger over the catalog and loads persisted state.
// A nil store disables persistence (state lives only in memory).
func NewLedger(ctx context.Context, catalog *Catalog, store Store, logger zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		catalog: catalog,
		store:   store,
		logger:  logger.With().Str("component", "badge_ledger").Logger(),
		states:  make(map[string]*UserState),
		userMus: make(map[string]*sync.Mutex),
	}

	if store != nil {
		loaded, err := store.LoadRewardStates(ctx)
		if err != nil {
			return nil, fmt.Errorf("load reward states: %w", err)
		}
		for userID, state := range loaded {
			s := state
			if s.Unlocked == nil {
				s.Unlocked = make(map[string]time.Time)
			}
			l.states[userID] = &s
		}
		l.logger.Info().Int("users", len(loaded)).Msg("reward states loaded")
	}

	return l, nil
}

// Catalog exposes the immutable badge registry.
func (l *Ledger) Catalog() *Catalog {
	return l.catalog
}

func (l *Ledger) lockUser(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.userMus[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.userMus[userID] = mu
	}
	return mu
}

func (l *Ledger) state(userID string) *UserState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[userID]
	if !ok {
		s = &UserState{UserID: userID, Unlocked: make(map[string]time.Time)}
		l.states[userID] = s
	}
	return s
}

// snapshot copies a user's state under the read lock.
func (l *Ledger) snapshot(userID string) UserState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.states[userID]
	if !ok {
		return UserState{UserID: userID, Unlocked: map[string]time.Time{}}
	}
	copied := UserState{UserID: s.UserID, Points: s.Points, Unlocked: make(map[string]time.Time, len(s.Unlocked))}
	for id, at := range s.Unlocked {
		copied.Unlocked[id] = at
	}
	return copied
}

// CheckEligibility returns the catalog badges the record newly qualifies
// the user for, in catalog order. Already unlocked badges are skipped.
func (l *Ledger) CheckEligibility(userID string, rec offset.Record, facts Facts) []Badge {
	state := l.snapshot(userID)

	var eligible []Badge
	for _, b := range l.catalog.All() {
		if _, unlocked := state.Unlocked[b.ID]; unlocked {
			continue
		}
		if qualifies(b, rec, facts) {
			eligible = append(eligible, b)
		}
	}
	return eligible
}

func qualifies(b Badge, rec offset.Record, facts Facts) bool {
	switch b.Category {
	case CategoryMonthly:
		return rec.Period == offset.Monthly && rec.TotalOffset.GreaterThanOrEqual(b.Threshold)
	case CategoryYearly:
		return rec.Period == offset.Yearly && rec.TotalOffset.GreaterThanOrEqual(b.Threshold)
	case CategoryMilestone:
		return facts.LifetimeOffsetTons.GreaterThanOrEqual(b.Threshold)
	case CategorySpecial:
		return facts.Flags[b.Requirement]
	}
	return false
}

// Award unlocks a badge for the user and credits its points. It returns
// false without side effects when the badge is unknown or already
// unlocked; calling it twice with the same arguments never double-credits.
func (l *Ledger) Award(ctx context.Context, userID, badgeID string) (bool, error) {
	b, ok := l.catalog.Lookup(badgeID)
	if !ok {
		l.logger.Debug().Str("user", userID).Str("badge", badgeID).Msg("award skipped: unknown badge")
		return false, nil
	}

	userMu := l.lockUser(userID)
	userMu.Lock()
	defer userMu.Unlock()

	state := l.state(userID)

	l.mu.Lock()
	if _, unlocked := state.Unlocked[badgeID]; unlocked {
		l.mu.Unlock()
		return false, nil
	}
	before := state.Points
	state.Unlocked[badgeID] = time.Now().UTC()
	state.Points += b.Points
	if state.Points < before {
		l.mu.Unlock()
		panic(fmt.Sprintf("badge: points overflow for user %s awarding %s", userID, badgeID))
	}
	snapshotState := *state
	snapshotState.Unlocked = make(map[string]time.Time, len(state.Unlocked))
	for id, at := range state.Unlocked {
		snapshotState.Unlocked[id] = at
	}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveRewardState(ctx, snapshotState); err != nil {
			l.logger.Error().Err(err).Str("user", userID).Str("badge", badgeID).Msg("failed to persist reward state")
			return true, fmt.Errorf("save reward state: %w", err)
		}
	}

	l.logger.Info().
		Str("user", userID).
		Str("badge", badgeID).
		Int64("points", b.Points).
		Msg("badge unlocked")
	return true, nil
}

// Progress reports percentage toward every still-locked monthly, yearly,
// and milestone badge applicable to the record, sorted descending by
// percentage. Special badges carry no numeric progress and are omitted.
// dailyRate is the caller-supplied average tons per day; when it is zero
// or negative the time estimate is omitted.
func (l *Ledger) Progress(userID string, rec offset.Record, facts Facts, dailyRate decimal.Decimal) []ProgressEntry {
	state := l.snapshot(userID)
	hundred := decimal.NewFromInt(100)

	var entries []ProgressEntry
	for _, b := range l.catalog.All() {
		if _, unlocked := state.Unlocked[b.ID]; unlocked {
			continue
		}

		var current decimal.Decimal
		switch b.Category {
		case CategoryMonthly:
			if rec.Period != offset.Monthly {
				continue
			}
			current = rec.TotalOffset
		case CategoryYearly:
			if rec.Period != offset.Yearly {
				continue
			}
			current = rec.TotalOffset
		case CategoryMilestone:
			current = facts.LifetimeOffsetTons
		default:
			continue
		}

		entry := ProgressEntry{Badge: b, Current: current, Threshold: b.Threshold}
		if b.Threshold.IsPositive() {
			pct := current.Div(b.Threshold).Mul(hundred)
			if pct.GreaterThan(hundred) {
				pct = hundred
			}
			entry.Percentage = pct
		}

		remaining := b.Threshold.Sub(current)
		if dailyRate.IsPositive() && remaining.IsPositive() {
			days := remaining.Div(dailyRate)
			entry.DaysToUnlock = &days
		}

		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Percentage.GreaterThan(entries[j].Percentage)
	})
	return entries
}

// Stats projects the user's current ledger state. Recent unlocks are
// ordered newest first, capped at five.
func (l *Ledger) Stats(userID string) Stats {
	state := l.snapshot(userID)

	stats := Stats{
		TotalBadges: len(state.Unlocked),
		ByRarity:    make(map[Rarity]int),
		TotalPoints: state.Points,
	}

	unlocks := make([]Unlock, 0, len(state.Unlocked))
	for id, at := range state.Unlocked {
		if b, ok := l.catalog.Lookup(id); ok {
			stats.ByRarity[b.Rarity]++
		}
		unlocks = append(unlocks, Unlock{BadgeID: id, UnlockedAt: at})
	}
	sort.Slice(unlocks, func(i, j int) bool { return unlocks[i].UnlockedAt.After(unlocks[j].UnlockedAt) })
	if len(unlocks) > 5 {
		unlocks = unlocks[:5]
	}
	stats.RecentUnlocks = unlocks
	return stats
}

// ResetUser administratively clears a user's badges and points. This is
// the only path that decreases points; it is not part of the normal flow.
func (l *Ledger) ResetUser(ctx context.Context, userID string) error {
	userMu := l.lockUser(userID)
	userMu.Lock()
	defer userMu.Unlock()

	state := l.state(userID)

	l.mu.Lock()
	state.Unlocked = make(map[string]time.Time)
	state.Points = 0
	snapshotState := *state
	snapshotState.Unlocked = map[string]time.Time{}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveRewardState(ctx, snapshotState); err != nil {
			return fmt.Errorf("save reward state: %w", err)
		}
	}

	l.logger.Warn().Str("user", userID).Msg("reward state administratively reset")
	return nil
}
