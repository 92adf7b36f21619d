package speaker_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	"github.com/221fa04357-prog/connect-pro/internal/speaker"
	"github.com/221fa04357-prog/connect-pro/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoster(t *testing.T) *store.ParticipantsStore {
	t.Helper()
	bus := eventbus.New()
	meeting := store.NewMeetingStore(bus, "tab-a")
	t.Cleanup(meeting.Close)
	ps := store.NewParticipantsStore(bus, "tab-a", meeting)
	t.Cleanup(ps.Close)
	ps.SetParticipants([]domain.Participant{
		{ID: "p-1", Name: "One", Role: domain.RoleHost, IsAudioMuted: true},
		{ID: "p-2", Name: "Two", Role: domain.RoleParticipant},
		{ID: "p-3", Name: "Three", Role: domain.RoleParticipant, IsAudioMuted: true},
	})
	return ps
}

func TestSimulator_PickOnlyUnmuted(t *testing.T) {
	ps := newRoster(t)
	sim := speaker.New(ps, speaker.WithRand(rand.New(rand.NewSource(1))))

	for i := 0; i < 20; i++ {
		id, ok := sim.Pick()
		require.True(t, ok)
		assert.Equal(t, "p-2", id, "只有 p-2 未静音")
	}

	ps.MuteAll()
	_, ok := sim.Pick()
	assert.False(t, ok, "全部静音时没有可选的发言人")
}

func TestSimulator_RunMarksAndClearsSpeaker(t *testing.T) {
	ps := newRoster(t)
	sim := speaker.New(ps, speaker.WithInterval(20*time.Millisecond), speaker.WithHold(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ps.ActiveSpeaker() == "p-2" }, time.Second, 2*time.Millisecond)
	assert.Eventually(t, func() bool { return ps.ActiveSpeaker() == "" }, time.Second, 2*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 没有在 ctx 取消后返回")
	}
	assert.Empty(t, ps.ActiveSpeaker())
}
