package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	regs map[string]Registration
	err  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{regs: make(map[string]Registration)}
}

func (m *mockRepository) Get(_ context.Context, id string) (*Registration, error) {
	if m.err != nil {
		return nil, m.err
	}
	reg, ok := m.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

func (m *mockRepository) List(_ context.Context) ([]Registration, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Registration, 0, len(m.regs))
	for _, reg := range m.regs {
		out = append(out, reg)
	}
	return out, nil
}

func (m *mockRepository) Upsert(_ context.Context, reg *Registration) error {
	if m.err != nil {
		return m.err
	}
	m.regs[reg.ID] = *reg
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.regs[id]; !ok {
		return ErrNotFound
	}
	delete(m.regs, id)
	return nil
}

func (m *mockRepository) UpdateLastSeen(_ context.Context, id string, seen time.Time) error {
	if m.err != nil {
		return m.err
	}
	reg, ok := m.regs[id]
	if !ok {
		return ErrNotFound
	}
	reg.LastSeen = seen
	m.regs[id] = reg
	return nil
}

func (m *mockRepository) SetCriticalEnabled(_ context.Context, id string, enabled bool) error {
	if m.err != nil {
		return m.err
	}
	reg, ok := m.regs[id]
	if !ok {
		return ErrNotFound
	}
	reg.CriticalEnabled = enabled
	m.regs[id] = reg
	return nil
}

func (m *mockRepository) DeleteSeenBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var ids []string
	for id, reg := range m.regs {
		if reg.LastSeen.Before(cutoff) {
			ids = append(ids, id)
			delete(m.regs, id)
		}
	}
	return ids, nil
}

func testOptions() Options {
	return Options{
		StaleAfter: 7 * 24 * time.Hour,
		PurgeAfter: 30 * 24 * time.Hour,
		GCInterval: time.Hour,
	}
}

func TestRegisterIdempotent(t *testing.T) {
	repo := newMockRepository()
	reg := New(repo, testOptions())
	ctx := context.Background()

	first, err := reg.Register(ctx, "device-1", "house-1", "token-a")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second, err := reg.Register(ctx, "device-1", "house-1", "token-b")
	if err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}

	if len(repo.regs) != 1 {
		t.Fatalf("expected 1 stored registration, got %d", len(repo.regs))
	}
	if second.PushToken != "token-b" {
		t.Errorf("PushToken = %q, want token-b (latest wins)", second.PushToken)
	}
	if !second.RegisteredAt.Equal(first.RegisteredAt) {
		t.Error("re-registration must preserve the original registration time")
	}
}

func TestRegisterPreservesOptOut(t *testing.T) {
	reg := New(newMockRepository(), testOptions())
	ctx := context.Background()

	if _, err := reg.Register(ctx, "device-1", "house-1", "token-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.SetCriticalEnabled(ctx, "device-1", false); err != nil {
		t.Fatalf("SetCriticalEnabled() error = %v", err)
	}

	refreshed, err := reg.Register(ctx, "device-1", "house-1", "token-b")
	if err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}
	if refreshed.CriticalEnabled {
		t.Error("token refresh must not re-enable critical delivery the user disabled")
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := New(newMockRepository(), testOptions())

	_, err := reg.Register(context.Background(), "", "house-1", "token")
	if !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("Register with empty id: error = %v, want ErrInvalidRegistration", err)
	}
}

func TestResolveRecipientsFilters(t *testing.T) {
	repo := newMockRepository()
	reg := New(repo, testOptions())
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	mustRegister(t, reg, ctx, "fresh", "house-1", "t1")
	mustRegister(t, reg, ctx, "opted-out", "house-1", "t2")
	mustRegister(t, reg, ctx, "stale", "house-1", "t3")
	mustRegister(t, reg, ctx, "other-house", "house-2", "t4")

	if err := reg.SetCriticalEnabled(ctx, "opted-out", false); err != nil {
		t.Fatalf("SetCriticalEnabled() error = %v", err)
	}

	// Age the stale device past the threshold by moving the clock.
	reg.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	if err := reg.Heartbeat(ctx, "fresh"); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	recipients := reg.ResolveRecipients("house-1")
	if len(recipients) != 1 {
		t.Fatalf("ResolveRecipients() returned %d devices, want 1", len(recipients))
	}
	if recipients[0].ID != "fresh" {
		t.Errorf("recipient = %q, want fresh", recipients[0].ID)
	}
}

func TestUnregisterRemovesFromResolution(t *testing.T) {
	reg := New(newMockRepository(), testOptions())
	ctx := context.Background()

	mustRegister(t, reg, ctx, "device-1", "house-1", "t1")
	if err := reg.Unregister(ctx, "device-1"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}

	if got := reg.ResolveRecipients("house-1"); len(got) != 0 {
		t.Errorf("ResolveRecipients() after unregister = %d devices, want 0", len(got))
	}
	if err := reg.Unregister(ctx, "device-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Unregister() error = %v, want ErrNotFound", err)
	}
}

func TestUnregisterRepositoryFailureKeepsCache(t *testing.T) {
	repo := newMockRepository()
	reg := New(repo, testOptions())
	ctx := context.Background()

	mustRegister(t, reg, ctx, "device-1", "house-1", "t1")

	repo.err = errors.New("db locked")
	if err := reg.Unregister(ctx, "device-1"); err == nil {
		t.Fatal("Unregister() with failing repo should error")
	}
	repo.err = nil

	// Device remains resolvable since durable removal failed.
	if got := reg.ResolveRecipients("house-1"); len(got) != 1 {
		t.Errorf("ResolveRecipients() = %d devices, want 1", len(got))
	}
}

func TestSweepPurgesInactive(t *testing.T) {
	repo := newMockRepository()
	reg := New(repo, testOptions())
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	mustRegister(t, reg, ctx, "ancient", "house-1", "t1")

	reg.now = func() time.Time { return now.Add(31 * 24 * time.Hour) }
	mustRegister(t, reg, ctx, "recent", "house-1", "t2")

	if err := reg.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if _, err := reg.Get("ancient"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ancient) error = %v, want ErrNotFound after purge", err)
	}
	if _, err := reg.Get("recent"); err != nil {
		t.Errorf("Get(recent) error = %v, want nil", err)
	}
}

func TestLoadPopulatesCache(t *testing.T) {
	repo := newMockRepository()
	repo.regs["device-1"] = Registration{
		ID:              "device-1",
		HouseholdID:     "house-1",
		PushToken:       "t1",
		CriticalEnabled: true,
		RegisteredAt:    time.Now().UTC(),
		LastSeen:        time.Now().UTC(),
	}

	reg := New(repo, testOptions())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := reg.ResolveRecipients("house-1"); len(got) != 1 {
		t.Errorf("ResolveRecipients() = %d devices, want 1", len(got))
	}
}

func mustRegister(t *testing.T, reg *Registry, ctx context.Context, id, household, token string) {
	t.Helper()
	if _, err := reg.Register(ctx, id, household, token); err != nil {
		t.Fatalf("Register(%s) error = %v", id, err)
	}
}
