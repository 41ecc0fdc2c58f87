package rescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchScript(t *testing.T) {
	s := New()
	assert.True(t, s.WatchScript("abc"))
	assert.False(t, s.WatchScript("abc"))
	assert.True(t, s.Watch.Contains("abc"))
}

func TestSetRangeBounds(t *testing.T) {
	s := New()
	s.SetRange(Included(5), Excluded(20), 100)
	require.NotNil(t, s.Start)
	require.NotNil(t, s.End)
	assert.Equal(t, Height(5), *s.Start)
	assert.Equal(t, Height(19), *s.End)
	assert.Equal(t, Height(5), s.Current)
}

func TestSetRangeUnboundedUsesDefault(t *testing.T) {
	s := New()
	s.SetRange(Unbounded(), Unbounded(), 42)
	assert.Nil(t, s.Start)
	assert.Nil(t, s.End)
	assert.Equal(t, Height(42), s.Current)
}

func TestExcludedStart(t *testing.T) {
	s := New()
	s.SetRange(Excluded(5), Included(10), 0)
	require.NotNil(t, s.Start)
	assert.Equal(t, Height(6), *s.Start)
	assert.Equal(t, Height(10), *s.End)
}

func TestRequestedRoundTrip(t *testing.T) {
	s := New()
	s.Request(3, 4, 5)
	assert.True(t, s.IsRequested(4))
	assert.True(t, s.RemoveRequested(4))
	assert.False(t, s.IsRequested(4))
	assert.False(t, s.RemoveRequested(4))
	assert.True(t, s.IsRequested(3))
}
