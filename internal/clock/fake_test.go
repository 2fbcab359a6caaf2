// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)

	var fired []string
	var seenAt []time.Time
	c.AfterFunc(2*time.Second, func() {
		fired = append(fired, "second")
		seenAt = append(seenAt, c.Now())
	})
	c.AfterFunc(time.Second, func() {
		fired = append(fired, "first")
		seenAt = append(seenAt, c.Now())
	})
	c.AfterFunc(time.Minute, func() { fired = append(fired, "late") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(2 * time.Second)}, seenAt)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
	require.Len(t, c.Pending(), 1)
	assert.Equal(t, time.Minute, c.Pending()[0].Delay)
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")
	assert.Empty(t, c.Pending())

	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestFake_StopAfterFire(t *testing.T) {
	c := NewFake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFake_ZeroDelayWaitsForAdvance(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })

	assert.False(t, fired)
	c.Advance(0)
	assert.True(t, fired)
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
	assert.Empty(t, c.Pending())
}

func TestFake_SetBackwardsDoesNotFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	c.AfterFunc(time.Second, func() { fired = true })

	c.Set(epoch.Add(-time.Hour))
	assert.False(t, fired)
	assert.Equal(t, epoch.Add(-time.Hour), c.Now())
}

func TestSystem_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	System{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("system timer did not fire")
	}
}
