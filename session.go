/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// BattleState is the client-local view of where a session is. Once inside a
// room it mirrors the room's status; before that it holds the pre-room
// states below.
type BattleState string

const (
	BattleIdle     BattleState = "idle"
	BattleCreating BattleState = "creating"
	BattleJoining  BattleState = "joining"
)

func battleStateFor(status RoomStatus) BattleState {
	return BattleState(status)
}

// createAttempts bounds room code collision retries.
const createAttempts = 10

var (
	errStale       = errors.New("transition no longer applies")
	errNotEligible = errors.New("guess not eligible")
	errNotHost     = errors.New("only the host can do that")
	errNotInRoom   = errors.New("not in a room")
)

// Session is one player's half of a match. It owns the local state machine,
// mediates every mutation of the shared room document through the store,
// and derives its observable view from the snapshots the store pushes.
//
// The write discipline substitutes for a lock: the host is the only writer
// for round progression (start, countdown-to-playing, next round, rematch),
// the guest only writes its seat and its guesses, and the one genuinely
// shared update — guess resolution — runs inside the store's atomic Modify.
type Session struct {
	cfg      *Config
	store    RoomStore
	dex      Supplier
	playerID string

	mu       sync.Mutex
	code     string
	role     PlayerRole
	state    BattleState
	errMsg   string
	room     *Room
	unsub    func()
	timer    *time.Timer
	timerKey string

	events chan struct{}
	closed bool
}

func NewSession(cfg *Config, store RoomStore, dex Supplier, playerID string) *Session {
	return &Session{
		cfg:      cfg,
		store:    store,
		dex:      dex,
		playerID: playerID,
		state:    BattleIdle,
		events:   make(chan struct{}, 1),
	}
}

// Events signals whenever the observable state may have changed. Signals
// are coalesced; consumers read the current state with View.
func (s *Session) Events() <-chan struct{} { return s.events }

func (s *Session) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.events <- struct{}{}:
	default:
	}
}

// Close leaves any room and stops the event stream. The session is done
// after this; consumers ranging over Events unblock.
func (s *Session) Close() {
	s.LeaveRoom()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// CreateRoom generates a collision-checked room code and creates a fresh
// room with this player as host.
func (s *Session) CreateRoom() error {
	s.mu.Lock()
	if s.state != BattleIdle {
		s.mu.Unlock()
		return errStale
	}
	s.state = BattleCreating
	s.errMsg = ""
	s.notifyLocked()
	s.mu.Unlock()

	var (
		code string
		err  error
	)
	for attempt := 0; attempt < createAttempts; attempt++ {
		code = newRoomCode()
		err = s.store.Create(code, newRoom(code, s.playerID, s.cfg))
		if err == nil || !errors.Is(err, ErrRoomExists) {
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		logf(s.cfg, "ROOMS: Create failed: %v", err)
		s.errMsg = "could not create a room, please try again"
		s.state = BattleIdle
		s.notifyLocked()
		return err
	}

	s.code = code
	s.role = RoleHost
	s.state = battleStateFor(StatusWaiting)
	s.attachLocked(code)
	s.notifyLocked()
	logf(s.cfg, "ROOMS: Player %s created room %s", s.playerID, code)
	return nil
}

// JoinRoom takes the guest seat in an existing room. It reports success;
// failures land in the session's error message per the room-join taxonomy.
func (s *Session) JoinRoom(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	if s.state != BattleIdle {
		s.mu.Unlock()
		return false
	}
	s.state = BattleJoining
	s.errMsg = ""
	s.notifyLocked()
	s.mu.Unlock()

	_, err := s.store.Modify(code, func(r *Room, _ time.Time) error {
		if r.GuestID != "" {
			return ErrRoomFull
		}
		if r.Status != StatusWaiting {
			return ErrRoomBusy
		}
		r.GuestID = s.playerID
		r.Status = StatusReady
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			s.errMsg = "no room with that code was found"
		case errors.Is(err, ErrRoomFull):
			s.errMsg = "that room is already full"
		case errors.Is(err, ErrRoomBusy):
			s.errMsg = "that game is already in progress"
		default:
			logf(s.cfg, "ROOMS: Join %s failed: %v", code, err)
			s.errMsg = "could not join the room, please try again"
		}
		s.state = BattleIdle
		s.notifyLocked()
		return false
	}

	s.code = code
	s.role = RoleGuest
	s.state = battleStateFor(StatusReady)
	s.attachLocked(code)
	s.notifyLocked()
	logf(s.cfg, "ROOMS: Player %s joined room %s", s.playerID, code)
	return true
}

// LeaveRoom ends this session's participation. The host deletes the room,
// ending the match for both sides; the guest frees its seat and resets the
// room so the host can be rejoined for a fresh match. Local state always
// returns to idle.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	code, role, playerID := s.code, s.role, s.playerID
	s.detachLocked()
	s.mu.Unlock()

	if code == "" {
		return
	}

	switch role {
	case RoleHost:
		if err := s.store.Delete(code); err != nil && !errors.Is(err, ErrRoomNotFound) {
			logf(s.cfg, "ROOMS: Delete %s failed: %v", code, err)
		}
	case RoleGuest:
		_, err := s.store.Modify(code, func(r *Room, _ time.Time) error {
			if r.GuestID != playerID {
				return errStale
			}
			r.GuestID = ""
			r.Status = StatusWaiting
			r.CurrentRound = 0
			r.CurrentPokemon = nil
			r.CountdownStartAt = nil
			r.Scores = Scores{}
			r.GameWinner = ""
			r.clearRound()
			return nil
		})
		if err != nil && !errors.Is(err, errStale) && !errors.Is(err, ErrRoomNotFound) {
			logf(s.cfg, "ROOMS: Guest leave %s failed: %v", code, err)
		}
	}
	logf(s.cfg, "ROOMS: Player %s left room %s", playerID, code)
}

// StartGame begins round one. Host only, room must be ready.
func (s *Session) StartGame() error {
	return s.hostRound(StatusReady, func(r *Room) int { return 1 }, nil)
}

// NextRound advances to the following round. Host only, room must be in
// round_end; also fired automatically by the host's round-delay timer.
func (s *Session) NextRound() error {
	return s.hostRound(StatusRoundEnd, func(r *Room) int { return r.CurrentRound + 1 }, nil)
}

// PlayAgain starts a rematch from a finished game, resetting the scores.
func (s *Session) PlayAgain() error {
	return s.hostRound(StatusFinished, func(r *Room) int { return 1 }, func(r *Room) {
		r.Scores = Scores{}
		r.GameWinner = ""
	})
}

// hostRound fetches a fresh creature and moves the room into the countdown
// for the computed round, guarded on the expected current status. A supplier
// or store failure leaves the document unchanged: the machine stalls until
// the host retries or someone leaves.
func (s *Session) hostRound(from RoomStatus, round func(r *Room) int, reset func(r *Room)) error {
	s.mu.Lock()
	code, role := s.code, s.role
	s.mu.Unlock()

	if code == "" {
		return errNotInRoom
	}
	if role != RoleHost {
		return errNotHost
	}

	p, err := s.dex.FetchRandom()
	if err != nil {
		logf(s.cfg, "BATTLE: Fetch for room %s failed: %v", code, err)
		s.setError("could not fetch a pokémon, please try again")
		return err
	}

	_, err = s.store.Modify(code, func(r *Room, now time.Time) error {
		if r.Status != from {
			return errStale
		}
		if reset != nil {
			reset(r)
		}
		r.startRound(round(r), p, now)
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStale) {
			logf(s.cfg, "BATTLE: Round start in %s failed: %v", code, err)
			s.setError("could not start the round, please try again")
		}
		return err
	}
	return nil
}

// SubmitGuess records this player's one guess for the open round and
// resolves the round inside the store transaction, so two near-simultaneous
// guesses can never both observe an empty opposing seat. Returns whether
// the guess was correct; ineligible calls (wrong status, no creature,
// already guessed) are no-ops that return false.
func (s *Session) SubmitGuess(text string) (bool, error) {
	s.mu.Lock()
	code, role := s.code, s.role
	s.mu.Unlock()

	if code == "" || role == "" {
		return false, nil
	}

	norm := normalizeGuess(text)

	correct := false
	_, err := s.store.Modify(code, func(r *Room, now time.Time) error {
		if r.Status != StatusPlaying || r.CurrentPokemon == nil {
			return errNotEligible
		}
		if r.guessBy(role) != nil {
			return errNotEligible
		}
		correct = norm == normalizeGuess(r.CurrentPokemon.Name)
		r.setGuess(role, &Guess{Text: norm, Correct: correct, SubmittedAt: now})
		r.resolve(role)
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotEligible) {
			return false, nil
		}
		logf(s.cfg, "BATTLE: Guess in %s failed: %v", code, err)
		s.setError("could not submit your guess, please try again")
		return false, err
	}
	return correct, nil
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.notifyLocked()
}

// attachLocked subscribes to the room and starts consuming its snapshots.
func (s *Session) attachLocked(code string) {
	ch, cancel := s.store.Subscribe(code)
	s.unsub = cancel
	go func() {
		for snap := range ch {
			s.apply(snap)
		}
	}()
}

// detachLocked cancels the subscription and timers and resets local state
// to idle. After this the session issues no further writes to the room,
// other than the leave write itself.
func (s *Session) detachLocked() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerKey = ""
	s.code = ""
	s.role = ""
	s.room = nil
	s.state = BattleIdle
	s.errMsg = ""
	s.notifyLocked()
}

// apply folds one pushed snapshot into local state.
func (s *Session) apply(snap RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.code == "" {
		return
	}

	if !snap.Exists() {
		// The room was deleted out from under us: the host left, or the
		// reaper collected an idle room.
		role := s.role
		s.detachLocked()
		if role == RoleGuest {
			s.errMsg = "the host left the room"
		} else {
			s.errMsg = "the room was closed"
		}
		s.notifyLocked()
		return
	}

	s.room = snap.Room
	s.state = battleStateFor(snap.Room.Status)
	s.scheduleLocked()
	s.notifyLocked()
}

// scheduleLocked arms the host's progression timer for the current phase:
// countdown elapses into playing, round_end auto-advances into the next
// round. Keyed per phase and round so repeated snapshots don't rearm it.
func (s *Session) scheduleLocked() {
	if s.role != RoleHost || s.room == nil {
		return
	}

	var (
		delay time.Duration
		fire  func(code string, round int)
	)

	if s.room.CountdownStartAt == nil {
		return
	}
	// The countdown stamp is unique per round instance, so rematches that
	// reuse round numbers still rearm the timer.
	key := fmt.Sprintf("%s/%d/%d", s.room.Status, s.room.CurrentRound, s.room.CountdownStartAt.UnixNano())

	switch s.room.Status {
	case StatusCountdown:
		delay = s.room.CountdownStartAt.Add(s.cfg.countdown).Sub(s.store.Now())
		fire = s.beginPlay
	case StatusRoundEnd:
		delay = s.cfg.roundDelay
		fire = s.autoAdvance
	default:
		return
	}

	if key == s.timerKey {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}

	s.timerKey = key
	code, round := s.code, s.room.CurrentRound
	s.timer = time.AfterFunc(delay, func() { fire(code, round) })
}

func (s *Session) beginPlay(code string, round int) {
	s.mu.Lock()
	left := s.code != code
	s.mu.Unlock()
	if left {
		return
	}

	_, err := s.store.Modify(code, func(r *Room, _ time.Time) error {
		if r.Status != StatusCountdown || r.CurrentRound != round {
			return errStale
		}
		r.Status = StatusPlaying
		return nil
	})
	if err != nil && !errors.Is(err, errStale) && !errors.Is(err, ErrRoomNotFound) {
		logf(s.cfg, "BATTLE: Countdown transition in %s failed: %v", code, err)
	}
}

func (s *Session) autoAdvance(code string, round int) {
	s.mu.Lock()
	stale := s.code != code || s.room == nil ||
		s.room.Status != StatusRoundEnd || s.room.CurrentRound != round
	s.mu.Unlock()
	if stale {
		return
	}

	// NextRound re-checks the room status inside the store transaction, so
	// a manual advance racing this timer is harmless.
	_ = s.NextRound()
}
