package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManual_Advance(t *testing.T) {
	c := NewManual(2)
	assert.Equal(t, uint64(0), c.Now())
	assert.Equal(t, uint64(5), c.Advance(5))
	assert.Equal(t, uint64(5), c.Set(3), "never moves backwards")
	assert.Equal(t, uint64(9), c.Set(9))
}

func TestManual_WaitUntilWakesOnAdvance(t *testing.T) {
	c := NewManual(1)
	done := make(chan error, 1)
	go func() {
		done <- c.WaitUntil(context.Background(), 10)
	}()

	c.Advance(4)
	select {
	case <-done:
		t.Fatal("woke before deadline")
	case <-time.After(20 * time.Millisecond):
	}

	c.Advance(6)
	require.NoError(t, <-done)
}

func TestManual_WaitUntilCancelled(t *testing.T) {
	c := NewManual(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.WaitUntil(ctx, 1), context.Canceled)
}

func TestVirtual_JumpsForward(t *testing.T) {
	c := NewVirtual(1)
	require.NoError(t, c.WaitUntil(context.Background(), 42))
	assert.Equal(t, uint64(42), c.Now())
}

func TestTimeouts(t *testing.T) {
	c := NewManual(2)
	assert.False(t, Expired(c, 0), "no deadline programmed")

	c.SetTimeout(1, 3)
	assert.Equal(t, uint64(3), c.Timeout(1))
	assert.False(t, Expired(c, 1))
	c.Advance(3)
	assert.True(t, Expired(c, 1))
}

func TestWall(t *testing.T) {
	base := time.Unix(1000, 0)
	now := base
	NowFunc = func() time.Time { return now }
	defer func() { NowFunc = time.Now }()

	w := NewWall(1, time.Millisecond)
	assert.Equal(t, uint64(0), w.Now())
	now = base.Add(25 * time.Millisecond)
	assert.Equal(t, uint64(25), w.Now())
	require.NoError(t, w.WaitUntil(context.Background(), 10))
}
