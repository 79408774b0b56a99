/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSupplier hands out a fixed rotation of creatures so tests know the
// answer for every round.
type stubSupplier struct {
	mu    sync.Mutex
	names []string
	calls int
}

func (s *stubSupplier) FetchRandom() (*Pokemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.names[s.calls%len(s.names)]
	s.calls++
	return &Pokemon{ID: s.calls, Name: name, ImageURL: "https://img.example/" + name + ".png"}, nil
}

// flakySupplier fails a set number of times before recovering.
type flakySupplier struct {
	mu       sync.Mutex
	failures int
	inner    Supplier
}

func (s *flakySupplier) FetchRandom() (*Pokemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("supplier unreachable")
	}
	return s.inner.FetchRandom()
}

// testConfig uses a near-instant countdown and a round delay long enough
// that round_end never auto-advances under a test's feet.
func testConfig() *Config {
	return &Config{
		rounds:      5,
		targetScore: 3,
		countdown:   5 * time.Millisecond,
		roundDelay:  time.Hour,
	}
}

// waitForView polls until the session's view satisfies cond, so tests never
// hang on a missed notification.
func waitForView(t *testing.T, s *Session, what string, cond func(SessionView) bool) SessionView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := s.View()
		if cond(v) {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last view: %+v", what, s.View())
	return SessionView{}
}

func waitForStatus(t *testing.T, s *Session, status RoomStatus) SessionView {
	t.Helper()
	return waitForView(t, s, fmt.Sprintf("status %q", status), func(v SessionView) bool {
		return v.Room != nil && v.Room.Status == status
	})
}

func newPair(t *testing.T, cfg *Config, dex Supplier) (*MemStore, *Session, *Session) {
	t.Helper()
	store := NewMemStore()
	host := NewSession(cfg, store, dex, newPlayerID())
	guest := NewSession(cfg, store, dex, newPlayerID())
	t.Cleanup(func() {
		host.Close()
		guest.Close()
	})
	return store, host, guest
}

func pairInRoom(t *testing.T, cfg *Config, dex Supplier) (*MemStore, *Session, *Session) {
	t.Helper()
	store, host, guest := newPair(t, cfg, dex)

	require.NoError(t, host.CreateRoom())
	v := host.View()
	require.Len(t, v.RoomCode, codeLength)
	require.Equal(t, RoleHost, v.Role)

	require.True(t, guest.JoinRoom(v.RoomCode))
	waitForStatus(t, host, StatusReady)
	waitForStatus(t, guest, StatusReady)
	return store, host, guest
}

func startPlaying(t *testing.T, host, guest *Session) {
	t.Helper()
	require.NoError(t, host.StartGame())
	waitForStatus(t, host, StatusPlaying)
	waitForStatus(t, guest, StatusPlaying)
}

func TestCreateAndJoin(t *testing.T) {
	_, host, guest := newPair(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})

	require.NoError(t, host.CreateRoom())
	hv := waitForView(t, host, "waiting room", func(v SessionView) bool {
		return v.State == battleStateFor(StatusWaiting) && v.Room != nil
	})
	require.Len(t, hv.RoomCode, codeLength)
	require.Equal(t, RoleHost, hv.Role)
	require.False(t, hv.Room.GuestJoined)

	require.True(t, guest.JoinRoom(hv.RoomCode))
	gv := waitForStatus(t, guest, StatusReady)
	assert.Equal(t, RoleGuest, gv.Role)
	assert.Equal(t, hv.RoomCode, gv.RoomCode)

	hv = waitForStatus(t, host, StatusReady)
	assert.True(t, hv.Room.GuestJoined)
	assert.Equal(t, RoleHost, hv.Role, "roles are never reassigned")
}

func TestJoinMissingRoom(t *testing.T) {
	_, _, guest := newPair(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})

	require.False(t, guest.JoinRoom("ZZZZZZ"))
	v := guest.View()
	assert.Equal(t, BattleIdle, v.State)
	assert.Equal(t, "no room with that code was found", v.Error)
}

func TestJoinFullRoomLeavesDocumentUnmodified(t *testing.T) {
	cfg := testConfig()
	store, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})

	before, err := store.Read(host.View().RoomCode)
	require.NoError(t, err)

	third := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer third.Close()

	require.False(t, third.JoinRoom(host.View().RoomCode))
	assert.Equal(t, "that room is already full", third.View().Error)
	assert.Equal(t, BattleIdle, third.View().State)

	after, err := store.Read(host.View().RoomCode)
	require.NoError(t, err)
	assert.Equal(t, before.GuestID, after.GuestID)
	assert.Equal(t, guest.View().Role, RoleGuest)
}

func TestJoinInProgressRoom(t *testing.T) {
	cfg := testConfig()
	store, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	// Guest frees its seat mid-game; the room resets to waiting, so a
	// fresh join must succeed rather than hit the in-progress check.
	guest.LeaveRoom()
	waitForStatus(t, host, StatusWaiting)

	third := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer third.Close()
	require.True(t, third.JoinRoom(host.View().RoomCode))
	waitForStatus(t, third, StatusReady)
}

func TestJoinDuringCountdownFails(t *testing.T) {
	cfg := testConfig()
	cfg.countdown = time.Hour // keep the room parked in countdown
	store, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})

	require.NoError(t, host.StartGame())
	waitForStatus(t, guest, StatusCountdown)

	// The seat check comes first, so a full in-progress room reads as full.
	third := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer third.Close()
	require.False(t, third.JoinRoom(host.View().RoomCode))
	assert.Equal(t, "that room is already full", third.View().Error)
}

func TestJoinInProgressRoomWithEmptySeat(t *testing.T) {
	cfg := testConfig()
	store := NewMemStore()

	require.NoError(t, store.Create("AAAAAA", newRoom("AAAAAA", "host-1", storeConfig())))
	_, err := store.Modify("AAAAAA", func(r *Room, _ time.Time) error {
		r.Status = StatusPlaying
		return nil
	})
	require.NoError(t, err)

	s := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer s.Close()

	require.False(t, s.JoinRoom("AAAAAA"))
	assert.Equal(t, "that game is already in progress", s.View().Error)
	assert.Equal(t, BattleIdle, s.View().State)

	r, err := store.Read("AAAAAA")
	require.NoError(t, err)
	assert.Empty(t, r.GuestID)
}

func TestGuestCannotDriveProgression(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})

	require.ErrorIs(t, guest.StartGame(), errNotHost)
	assert.Equal(t, battleStateFor(StatusReady), host.View().State)

	startPlaying(t, host, guest)
	require.ErrorIs(t, guest.NextRound(), errNotHost)
	require.ErrorIs(t, guest.PlayAgain(), errNotHost)
}

func TestStartGameBeginsRoundOne(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})

	require.NoError(t, host.StartGame())
	v := waitForStatus(t, guest, StatusCountdown)
	assert.Equal(t, 1, v.Room.CurrentRound)
	assert.Equal(t, 5, v.Room.TotalRounds)

	waitForStatus(t, host, StatusPlaying)
	waitForStatus(t, guest, StatusPlaying)
}

func TestCorrectGuessWinsRound(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	correct, err := guest.SubmitGuess("  Pikachu!  ")
	require.NoError(t, err)
	require.True(t, correct)

	gv := waitForStatus(t, guest, StatusRoundEnd)
	assert.Equal(t, 1, gv.Room.Scores.Guest)
	assert.Equal(t, 0, gv.Room.Scores.Host)
	assert.Equal(t, RoundWinner(RoleGuest), gv.Room.RoundWinner)

	hv := waitForStatus(t, host, StatusRoundEnd)
	assert.Equal(t, 1, hv.Room.Scores.Guest)
}

func TestSubmitGuessIsIdempotentPerRound(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	correct, err := host.SubmitGuess("charmander")
	require.NoError(t, err)
	require.False(t, correct)

	first := waitForView(t, host, "recorded guess", func(v SessionView) bool {
		return v.HasGuessed
	})

	// A second call in the same round is a no-op, even with the right name.
	correct, err = host.SubmitGuess("pikachu")
	require.NoError(t, err)
	assert.False(t, correct)

	v := host.View()
	assert.Equal(t, first.YourGuess.Text, v.YourGuess.Text)
	assert.Equal(t, 0, v.Room.Scores.Host)
}

func TestGuessOutsideOpenRoundIsNoop(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})

	// Still in ready: no active creature, nothing to guess.
	correct, err := guest.SubmitGuess("pikachu")
	require.NoError(t, err)
	assert.False(t, correct)

	startPlaying(t, host, guest)
	correct, err = guest.SubmitGuess("pikachu")
	require.NoError(t, err)
	require.True(t, correct)
	waitForStatus(t, host, StatusRoundEnd)

	// Round already settled: the late guess is rejected, not recorded.
	correct, err = host.SubmitGuess("pikachu")
	require.NoError(t, err)
	assert.False(t, correct)
	assert.False(t, host.View().HasGuessed)
}

func TestPunctuationOnlyGuessCountsAsWrong(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	// Normalizes to the empty string, which can never match, but it still
	// uses up the player's one guess for the round.
	correct, err := host.SubmitGuess("!!!")
	require.NoError(t, err)
	require.False(t, correct)

	waitForView(t, host, "recorded guess", func(v SessionView) bool {
		return v.HasGuessed
	})

	correct, err = guest.SubmitGuess("squirtle")
	require.NoError(t, err)
	require.False(t, correct)

	v := waitForStatus(t, host, StatusRoundEnd)
	assert.Equal(t, RoundWinnerNone, v.Room.RoundWinner)
}

func TestBothWrongEndsRoundWithNoWinner(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	correct, err := host.SubmitGuess("charmander")
	require.NoError(t, err)
	require.False(t, correct)

	// One wrong guess leaves the round open for the other player.
	assert.Equal(t, StatusPlaying, host.View().Room.Status)

	correct, err = guest.SubmitGuess("squirtle")
	require.NoError(t, err)
	require.False(t, correct)

	v := waitForStatus(t, host, StatusRoundEnd)
	assert.Equal(t, RoundWinnerNone, v.Room.RoundWinner)
	assert.Equal(t, Scores{}, v.Room.Scores)
}

func TestWrongThenCorrect(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	_, err := host.SubmitGuess("mewtwo")
	require.NoError(t, err)

	correct, err := guest.SubmitGuess("pikachu")
	require.NoError(t, err)
	require.True(t, correct)

	v := waitForStatus(t, guest, StatusRoundEnd)
	assert.Equal(t, RoundWinner(RoleGuest), v.Room.RoundWinner)
	assert.Equal(t, 1, v.Room.Scores.Guest)
}

func TestMatchEndsAtTargetScore(t *testing.T) {
	cfg := testConfig()
	cfg.targetScore = 2
	cfg.roundDelay = 10 * time.Millisecond
	_, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})

	require.NoError(t, host.StartGame())

	// Guest takes the first two rounds; the round-delay timer advances the
	// match in between.
	for round := 1; ; round++ {
		waitForView(t, guest, "open round", func(v SessionView) bool {
			return v.Room != nil && v.Room.Status == StatusPlaying && v.Room.CurrentRound == round
		})
		correct, err := guest.SubmitGuess("pikachu")
		require.NoError(t, err)
		require.True(t, correct)
		if round == 2 {
			break
		}
	}

	v := waitForStatus(t, guest, StatusFinished)
	assert.Equal(t, 2, v.Room.Scores.Guest)
	assert.Equal(t, RoleGuest, v.Room.GameWinner)

	hv := waitForStatus(t, host, StatusFinished)
	assert.Equal(t, RoleGuest, hv.Room.GameWinner)
}

func TestMatchEndsAtRoundLimitWithTie(t *testing.T) {
	cfg := testConfig()
	cfg.rounds = 2
	cfg.roundDelay = 10 * time.Millisecond
	_, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})

	require.NoError(t, host.StartGame())

	waitForView(t, host, "round 1 open", func(v SessionView) bool {
		return v.Room != nil && v.Room.Status == StatusPlaying && v.Room.CurrentRound == 1
	})
	correct, err := host.SubmitGuess("pikachu")
	require.NoError(t, err)
	require.True(t, correct)

	waitForView(t, guest, "round 2 open", func(v SessionView) bool {
		return v.Room != nil && v.Room.Status == StatusPlaying && v.Room.CurrentRound == 2
	})
	correct, err = guest.SubmitGuess("pikachu")
	require.NoError(t, err)
	require.True(t, correct)

	v := waitForStatus(t, host, StatusFinished)
	assert.Equal(t, Scores{Host: 1, Guest: 1}, v.Room.Scores)
	assert.Empty(t, v.Room.GameWinner, "a tie has no game winner")
}

func TestRoundDelayAutoAdvances(t *testing.T) {
	cfg := testConfig()
	cfg.roundDelay = 10 * time.Millisecond
	_, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu", "gengar"}})
	startPlaying(t, host, guest)

	_, err := host.SubmitGuess("onix")
	require.NoError(t, err)
	_, err = guest.SubmitGuess("seel")
	require.NoError(t, err)
	waitForStatus(t, guest, StatusRoundEnd)

	v := waitForView(t, guest, "round 2 open", func(v SessionView) bool {
		return v.Room != nil && v.Room.Status == StatusPlaying && v.Room.CurrentRound == 2
	})
	assert.False(t, v.HasGuessed, "guesses are cleared at round start")
	assert.False(t, v.OpponentGuessed)
	assert.Empty(t, v.Room.RoundWinner)
}

func TestPlayAgainResetsScores(t *testing.T) {
	cfg := testConfig()
	cfg.targetScore = 1
	_, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	correct, err := host.SubmitGuess("pikachu")
	require.NoError(t, err)
	require.True(t, correct)
	waitForStatus(t, guest, StatusFinished)

	require.NoError(t, host.PlayAgain())
	v := waitForView(t, guest, "rematch round 1", func(v SessionView) bool {
		return v.Room != nil && v.Room.CurrentRound == 1 && v.Room.Status != StatusFinished
	})
	assert.Equal(t, Scores{}, v.Room.Scores)
	assert.Empty(t, v.Room.GameWinner)

	// The rematch countdown still elapses into an open round.
	waitForStatus(t, host, StatusPlaying)
	waitForStatus(t, guest, StatusPlaying)
}

func TestHostLeaveDeletesRoom(t *testing.T) {
	cfg := testConfig()
	store, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})
	code := host.View().RoomCode

	host.LeaveRoom()

	v := waitForView(t, guest, "guest reset to idle", func(v SessionView) bool {
		return v.State == BattleIdle
	})
	assert.Equal(t, "the host left the room", v.Error)

	_, err := store.Read(code)
	require.ErrorIs(t, err, ErrRoomNotFound)

	third := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer third.Close()
	require.False(t, third.JoinRoom(code))
	assert.Equal(t, "no room with that code was found", third.View().Error)
}

func TestGuestLeaveFreesSeat(t *testing.T) {
	cfg := testConfig()
	store, host, guest := pairInRoom(t, cfg, &stubSupplier{names: []string{"pikachu"}})
	code := host.View().RoomCode

	guest.LeaveRoom()
	assert.Equal(t, BattleIdle, guest.View().State)

	hv := waitForStatus(t, host, StatusWaiting)
	assert.False(t, hv.Room.GuestJoined)
	assert.Equal(t, RoleHost, hv.Role)

	rejoin := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer rejoin.Close()
	require.True(t, rejoin.JoinRoom(code))
	waitForStatus(t, host, StatusReady)
}

func TestViewWithholdsAnswerWhileRoundIsOpen(t *testing.T) {
	_, host, guest := pairInRoom(t, testConfig(), &stubSupplier{names: []string{"pikachu"}})
	startPlaying(t, host, guest)

	v := guest.View()
	require.NotNil(t, v.Room.Pokemon)
	assert.Empty(t, v.Room.Pokemon.Name)
	assert.Zero(t, v.Room.Pokemon.ID)
	assert.NotEmpty(t, v.Room.Pokemon.ImageURL)

	_, err := guest.SubmitGuess("pikachu")
	require.NoError(t, err)
	v = waitForStatus(t, guest, StatusRoundEnd)
	assert.Equal(t, "pikachu", v.Room.Pokemon.Name)
}

func TestSupplierFailureStallsWithoutMutatingRoom(t *testing.T) {
	cfg := testConfig()
	dex := &flakySupplier{failures: 1, inner: &stubSupplier{names: []string{"pikachu"}}}
	store, host, guest := newPair(t, cfg, dex)

	require.NoError(t, host.CreateRoom())
	require.True(t, guest.JoinRoom(host.View().RoomCode))
	waitForStatus(t, host, StatusReady)

	require.Error(t, host.StartGame())
	v := host.View()
	assert.Equal(t, "could not fetch a pokémon, please try again", v.Error)

	r, err := store.Read(host.View().RoomCode)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, r.Status, "a failed fetch leaves the document unchanged")

	// Retry is user-initiated and succeeds once the supplier recovers.
	require.NoError(t, host.StartGame())
	waitForStatus(t, guest, StatusPlaying)
}

func TestCreateRoomWhileInRoomIsRejected(t *testing.T) {
	cfg := testConfig()
	store := NewMemStore()

	s := NewSession(cfg, store, &stubSupplier{names: []string{"pikachu"}}, newPlayerID())
	defer s.Close()

	require.NoError(t, s.CreateRoom())
	require.ErrorIs(t, s.CreateRoom(), errStale, "already in a room")
}
