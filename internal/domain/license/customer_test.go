package license

import (
	"testing"
	"time"
)

var testClock = Clock{
	TrialPeriod: 30 * 24 * time.Hour,
	TrialGrace:  24 * time.Hour,
	OfflineCap:  7 * 24 * time.Hour,
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusTrial, StatusActive},
		{StatusTrial, StatusExpired},
		{StatusActive, StatusPaymentFailedGrace},
		{StatusPaymentFailedGrace, StatusActive},
		{StatusPaymentFailedGrace, StatusExpired},
		{StatusActive, StatusCanceledGrace},
		{StatusPaymentFailedGrace, StatusCanceledGrace},
		{StatusCanceledGrace, StatusExpired},
		{StatusExpired, StatusActive}, // fresh activation after checkout
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}
	denied := [][2]Status{
		{StatusExpired, StatusPaymentFailedGrace},
		{StatusCanceledGrace, StatusPaymentFailedGrace},
		{StatusActive, StatusTrial},
		{StatusExpired, StatusTrial},
		{StatusActive, StatusExpired},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be denied", pair[0], pair[1])
		}
	}
}

func TestTrialExpiryWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Customer{Status: StatusTrial, TrialStartedAt: &start}

	if got := c.EffectiveStatus(start.Add(30*24*time.Hour), testClock); got != StatusTrial {
		t.Fatalf("expected trial at day 30, got %s", got)
	}
	if got := c.EffectiveStatus(start.Add(31*24*time.Hour-time.Second), testClock); got != StatusTrial {
		t.Fatalf("expected trial just before grace end, got %s", got)
	}
	if got := c.EffectiveStatus(start.Add(31*24*time.Hour+time.Second), testClock); got != StatusExpired {
		t.Fatalf("expected expired after trial grace, got %s", got)
	}
}

func TestAccessAtGraceStates(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	grace := now.Add(48 * time.Hour)

	c := &Customer{Status: StatusPaymentFailedGrace, GraceUntil: &grace}
	if !c.AccessAt(now, testClock) {
		t.Fatal("expected access within payment grace")
	}
	if c.AccessAt(grace.Add(time.Second), testClock) {
		t.Fatal("expected no access past graceUntil")
	}

	c = &Customer{Status: StatusCanceledGrace, GraceUntil: &grace}
	if !c.AccessAt(grace, testClock) {
		t.Fatal("expected access at exactly graceUntil")
	}

	c = &Customer{Status: StatusExpired}
	if c.AccessAt(now, testClock) {
		t.Fatal("expected no access when expired")
	}

	c = &Customer{Status: StatusActive}
	if !c.AccessAt(now, testClock) {
		t.Fatal("expected access when active")
	}
}

func TestOfflineValidUntil(t *testing.T) {
	validated := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// No grace deadline: full cap applies.
	c := &Customer{Status: StatusActive}
	if got := c.OfflineValidUntil(validated, testClock); !got.Equal(validated.Add(testClock.OfflineCap)) {
		t.Fatalf("expected full offline cap, got %v", got)
	}

	// Grace ends before the cap: grace bounds the trust window.
	grace := validated.Add(48 * time.Hour)
	c = &Customer{Status: StatusPaymentFailedGrace, GraceUntil: &grace}
	if got := c.OfflineValidUntil(validated, testClock); !got.Equal(grace) {
		t.Fatalf("expected graceUntil bound, got %v", got)
	}

	// Grace ends after the cap: cap wins.
	farGrace := validated.Add(30 * 24 * time.Hour)
	c = &Customer{Status: StatusPaymentFailedGrace, GraceUntil: &farGrace}
	if got := c.OfflineValidUntil(validated, testClock); !got.Equal(validated.Add(testClock.OfflineCap)) {
		t.Fatalf("expected cap bound, got %v", got)
	}
}

func TestUnlockTokenRoundTrip(t *testing.T) {
	token, err := GenerateUnlockToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if len(token) < 24 {
		t.Fatalf("token too short: %q", token)
	}
	hash, err := HashUnlockToken(token)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	if !VerifyUnlockToken(hash, token) {
		t.Fatal("expected token to verify against its hash")
	}
	if VerifyUnlockToken(hash, token+"x") {
		t.Fatal("expected tampered token to fail")
	}
}
