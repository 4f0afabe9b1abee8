package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowOverlaps(t *testing.T) {
	t0 := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{name: "identical", a: Window{at(0), at(2)}, b: Window{at(0), at(2)}, want: true},
		{name: "partial", a: Window{at(0), at(2)}, b: Window{at(1), at(3)}, want: true},
		{name: "contained", a: Window{at(0), at(4)}, b: Window{at(1), at(2)}, want: true},
		{name: "touching end", a: Window{at(0), at(2)}, b: Window{at(2), at(3)}, want: false},
		{name: "touching start", a: Window{at(2), at(3)}, b: Window{at(0), at(2)}, want: false},
		{name: "disjoint", a: Window{at(0), at(1)}, b: Window{at(5), at(6)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestWindowValid(t *testing.T) {
	now := time.Now()
	assert.True(t, Window{Start: now, Stop: now.Add(time.Minute)}.Valid())
	assert.False(t, Window{Start: now, Stop: now}.Valid())
	assert.False(t, Window{Start: now, Stop: now.Add(-time.Minute)}.Valid())
}

func TestResourceClaim(t *testing.T) {
	r := Resource{Stock: 6}
	assert.Equal(t, 4, r.Claim(4))
	assert.Equal(t, 6, r.Claim(ClaimAll))
	assert.False(t, r.Unlimited())

	unlimited := Resource{Stock: UnlimitedStock}
	assert.True(t, unlimited.Unlimited())
	assert.Equal(t, 0, unlimited.Claim(ClaimAll))
}

func TestEventHelpers(t *testing.T) {
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	e := Event{DateStart: start, DateStop: start.Add(90 * time.Minute), Stock: 0}

	assert.Equal(t, 90*time.Minute, e.Duration())
	assert.True(t, e.Unlimited())
	assert.Equal(t, Window{Start: e.DateStart, Stop: e.DateStop}, e.Window())
}

func TestAllocationKindString(t *testing.T) {
	assert.Equal(t, "activity_resource", ActivityAllocation.String())
	assert.Equal(t, "flexi_reservation_resource", FlexiAllocation.String())
	assert.Equal(t, "unknown", AllocationKind(0).String())
}
