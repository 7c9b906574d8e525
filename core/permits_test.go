package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewPermits_Defaults(t *testing.T) {
	now := time.Now().UnixMilli()
	p := NewPermits(30, 30, now)

	if p.MaxPermits != 900 {
		t.Errorf("MaxPermits = %d, want 900", p.MaxPermits)
	}
	if p.StoredPermits != 30 {
		t.Errorf("StoredPermits = %d, want 30", p.StoredPermits)
	}
	if p.IntervalMillis != 33 {
		t.Errorf("IntervalMillis = %d, want 33", p.IntervalMillis)
	}
	if p.NextFreeTicketMillis != now {
		t.Errorf("NextFreeTicketMillis = %d, want %d", p.NextFreeTicketMillis, now)
	}
}

func TestNewPermits_ZeroBurstUsesDefault(t *testing.T) {
	p := NewPermits(10, 0, 0)
	if p.MaxPermits != 10*DefaultMaxBurstSeconds {
		t.Errorf("MaxPermits = %d, want %d", p.MaxPermits, 10*DefaultMaxBurstSeconds)
	}
}

func TestPermits_Refill(t *testing.T) {
	tests := []struct {
		name       string
		stored     int64
		elapsed    int64
		wantStored int64
		wantRefill bool
	}{
		{name: "no time elapsed", stored: 5, elapsed: 0, wantStored: 5, wantRefill: false},
		{name: "partial interval truncates", stored: 5, elapsed: 99, wantStored: 5, wantRefill: true},
		{name: "one interval", stored: 5, elapsed: 100, wantStored: 6, wantRefill: true},
		{name: "capped at max", stored: 5, elapsed: 60_000, wantStored: 50, wantRefill: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Permits{MaxPermits: 50, StoredPermits: tt.stored, IntervalMillis: 100, NextFreeTicketMillis: 1000}

			refilled := p.Refill(1000 + tt.elapsed)
			if refilled != tt.wantRefill {
				t.Errorf("Refill() = %v, want %v", refilled, tt.wantRefill)
			}
			if p.StoredPermits != tt.wantStored {
				t.Errorf("StoredPermits = %d, want %d", p.StoredPermits, tt.wantStored)
			}
			if tt.wantRefill && p.NextFreeTicketMillis != 1000+tt.elapsed {
				t.Errorf("NextFreeTicketMillis = %d, want %d", p.NextFreeTicketMillis, 1000+tt.elapsed)
			}
		})
	}
}

func TestPermits_RefillIsIdempotentForSameNow(t *testing.T) {
	p := &Permits{MaxPermits: 100, StoredPermits: 0, IntervalMillis: 10, NextFreeTicketMillis: 0}

	if !p.Refill(500) {
		t.Fatal("first Refill() should report a refill")
	}
	after := *p

	if p.Refill(500) {
		t.Error("second Refill() with same now should be a no-op")
	}
	if *p != after {
		t.Errorf("state changed on second refill: got %+v, want %+v", *p, after)
	}
}

func TestPermits_RefillNeverMovesTicketBackward(t *testing.T) {
	p := &Permits{MaxPermits: 10, StoredPermits: 0, IntervalMillis: 100, NextFreeTicketMillis: 5000}

	p.Refill(4000)
	if p.NextFreeTicketMillis != 5000 {
		t.Errorf("NextFreeTicketMillis = %d, want 5000", p.NextFreeTicketMillis)
	}
}

func TestPermits_ExpirySeconds(t *testing.T) {
	p := &Permits{NextFreeTicketMillis: 10_000}

	if got := p.ExpirySeconds(20_000); got != 120 {
		t.Errorf("ExpirySeconds(past ticket) = %d, want 120", got)
	}
	if got := p.ExpirySeconds(4_500); got != 125 {
		t.Errorf("ExpirySeconds(future ticket) = %d, want 125", got)
	}
	if got := p.Expiry(20_000); got != 120*time.Second {
		t.Errorf("Expiry() = %v, want 2m0s", got)
	}
}

func TestPermits_BurstThenInterval(t *testing.T) {
	const pps, burst = 10, 2
	now := int64(1_000_000)
	p := NewPermits(pps, burst, now)
	// let the bucket fill up to pps*burst
	now += 60_000

	for i := int64(0); i < pps*burst; i++ {
		if wait := p.Reserve(1, now); wait != 0 {
			t.Fatalf("reservation %d waited %dms, want 0", i+1, wait)
		}
	}

	if wait := p.Reserve(1, now); wait != 100 {
		t.Errorf("first reservation past burst waited %dms, want 100", wait)
	}
	if wait := p.Reserve(1, now); wait != 200 {
		t.Errorf("second reservation past burst waited %dms, want 200", wait)
	}
}

func TestPermits_ReserveQueuesBehindEarlierReservation(t *testing.T) {
	p := &Permits{MaxPermits: 10, StoredPermits: 0, IntervalMillis: 100, NextFreeTicketMillis: 1000}

	if wait := p.Reserve(3, 1000); wait != 300 {
		t.Errorf("Reserve() = %d, want 300", wait)
	}
	if wait := p.Reserve(1, 1100); wait != 300 {
		t.Errorf("Reserve() after 100ms = %d, want 300", wait)
	}
}

func TestPermits_EarliestAvailableDoesNotMutate(t *testing.T) {
	p := NewPermits(30, 30, 0)
	before := *p

	wait := p.EarliestAvailable(100, 0)
	if wait != 70*33 {
		t.Errorf("EarliestAvailable() = %d, want %d", wait, 70*33)
	}
	if *p != before {
		t.Errorf("EarliestAvailable mutated state: got %+v, want %+v", *p, before)
	}
}

func TestPermits_SaturatesOnHugeDemand(t *testing.T) {
	now := time.Now().UnixMilli()
	p := NewPermits(30, 30, now)

	wait := p.Reserve(math.MaxInt64, now)
	if wait <= 0 {
		t.Fatalf("Reserve(MaxInt64) = %d, want positive capped wait", wait)
	}
	if p.NextFreeTicketMillis != math.MaxInt64 {
		t.Errorf("NextFreeTicketMillis = %d, want MaxInt64", p.NextFreeTicketMillis)
	}
	if got := p.EarliestAvailable(math.MaxInt64, now); got <= 0 {
		t.Errorf("EarliestAvailable(MaxInt64) = %d, want positive", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	p := &Permits{MaxPermits: 900, StoredPermits: 0, IntervalMillis: 33, NextFreeTicketMillis: math.MaxInt64}

	encoded, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if *decoded != *p {
		t.Errorf("Decode(Encode()) = %+v, want %+v", *decoded, *p)
	}
}

func TestCodec_RejectsCorruptRecords(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "not json", value: "garbage"},
		{name: "zero interval", value: `{"max_permits":10,"stored_permits":1,"interval_millis":0,"next_free_ticket_millis":0}`},
		{name: "stored above max", value: `{"max_permits":10,"stored_permits":11,"interval_millis":100,"next_free_ticket_millis":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.value)
			if !errors.Is(err, ErrCorruptPermits) {
				t.Errorf("Decode() error = %v, want ErrCorruptPermits", err)
			}
		})
	}
}
