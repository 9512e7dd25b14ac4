package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStation(gw Gateway) (*Station, *fakeClock) {
	clock := newFakeClock()
	var auth Authenticator
	if gw != nil {
		auth = NewTokenAuth("secret", time.Hour, clock.Now)
	}
	return newStation(gw, auth, nil, clock, StationOptions{IdleTimeout: time.Minute, LogRetention: 24 * time.Hour}), clock
}

func TestStationBootWithoutBackend(t *testing.T) {
	st, _ := newTestStation(nil)
	_, _, err := st.Boot(context.Background(), "", newMemoryStore())
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
	if st.relayCount() != 0 {
		t.Fatalf("no relay should be created without a backend")
	}
}

func TestStationRestoresSameRelay(t *testing.T) {
	st, _ := newTestStation(NewMemoryGateway())
	ctx := context.Background()
	local := newMemoryStore()
	local.Set(codenameCacheKey, "NOVA")

	first, sess, err := st.Boot(ctx, "", local)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	again, sess2, err := st.Boot(ctx, sess.Token, local)
	if err != nil {
		t.Fatalf("reboot: %v", err)
	}
	if first != again || sess.UserID != sess2.UserID {
		t.Fatalf("restored session should reuse the relay")
	}
	if countLines(consoleTexts(again), "✓ session restored from deep space cache") != 1 {
		t.Fatalf("missing restored line in %v", consoleTexts(again))
	}

	resolved, err := st.Resolve(ctx, sess.Token)
	if err != nil || resolved != first {
		t.Fatalf("resolve: relay=%p err=%v", resolved, err)
	}
	if _, err := st.Resolve(ctx, "bogus"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("bogus token: %v", err)
	}
}

func TestStationReapsIdleRelays(t *testing.T) {
	st, clock := newTestStation(NewMemoryGateway())
	busy := st.relayFor("busy")
	idle := st.relayFor("idle")
	watched := st.relayFor("watched")
	ch := watched.Subscribe()
	defer watched.Unsubscribe(ch)

	clock.Advance(2 * time.Minute)
	busy.touch()
	busy.sending.Store(true)

	if n := st.reapIdle(clock.Now()); n != 1 {
		t.Fatalf("reaped %d relays, want 1", n)
	}
	st.mu.Lock()
	_, stillIdle := st.relays["idle"]
	st.mu.Unlock()
	if stillIdle || idle.subscriberCount() != 0 {
		t.Fatalf("idle relay should be dropped")
	}
	if st.relayCount() != 2 {
		t.Fatalf("relays left = %d, want 2", st.relayCount())
	}
}

func TestDailyCleanupPrunesOncePerDay(t *testing.T) {
	gw := NewMemoryGateway()
	st, clock := newTestStation(gw)
	ctx := context.Background()
	now := clock.Now()
	_ = gw.InsertLog(ctx, MissionLog{UserID: "u", Event: "send", CreatedAt: now.Add(-48 * time.Hour)})
	_ = gw.InsertLog(ctx, MissionLog{UserID: "u", Event: "send", CreatedAt: now.Add(-time.Hour)})

	n, err := st.runDailyCleanup(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("cleanup pruned %d (err %v), want 1", n, err)
	}
	_ = gw.InsertLog(ctx, MissionLog{UserID: "u", Event: "send", CreatedAt: now.Add(-72 * time.Hour)})
	if n, _ := st.runDailyCleanup(ctx, now.Add(time.Hour)); n != 0 {
		t.Fatalf("cleanup ran twice on the same day")
	}
	_ = gw.InsertLog(ctx, MissionLog{UserID: "u", Event: "success", CreatedAt: now.Add(12 * time.Hour)})
	if n, _ := st.runDailyCleanup(ctx, now.Add(24*time.Hour)); n != 2 {
		t.Fatalf("next day cleanup pruned %d, want 2", n)
	}
	logs, _ := gw.RecentLogs(ctx, "u", 10)
	if len(logs) != 1 || logs[0].Event != "success" {
		t.Fatalf("logs left = %+v, want only the recent success", logs)
	}
}

type brokenAuth struct{}

func (brokenAuth) GetSession(context.Context, string) (*AuthSession, error) { return nil, nil }

func (brokenAuth) SignInAnonymously(context.Context) (*AuthSession, error) {
	return nil, errors.New("auth service down")
}

func TestStationBootAuthFailure(t *testing.T) {
	st := newStation(NewMemoryGateway(), brokenAuth{}, nil, newFakeClock(), StationOptions{})
	_, _, err := st.Boot(context.Background(), "", newMemoryStore())
	if ErrorCode(err) != CodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Message != uplinkFailedLine {
		t.Fatalf("error message = %v", err)
	}
	if st.relayCount() != 0 {
		t.Fatalf("failed boot must not register a relay")
	}
}
