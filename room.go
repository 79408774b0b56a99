/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"
)

// RoomStatus is the authoritative state-machine position of a room,
// shared by both players through the room store.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"   // host alone, waiting for a guest
	StatusReady     RoomStatus = "ready"     // both seats filled, host may start
	StatusCountdown RoomStatus = "countdown" // synchronized pre-round countdown
	StatusPlaying   RoomStatus = "playing"   // round open for guesses
	StatusRoundEnd  RoomStatus = "round_end" // round settled, shown before auto-advance
	StatusFinished  RoomStatus = "finished"  // match over
)

// PlayerRole identifies a seat in the room. The host creates the room and
// exclusively drives round progression; the guest only guesses and leaves.
type PlayerRole string

const (
	RoleHost  PlayerRole = "host"
	RoleGuest PlayerRole = "guest"
)

func (r PlayerRole) other() PlayerRole {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// RoundWinner is "host", "guest", or "none" for a round both players missed.
type RoundWinner string

const RoundWinnerNone RoundWinner = "none"

// Pokemon is the per-round snapshot of the creature to guess.
type Pokemon struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// Guess records one player's single attempt for the current round.
type Guess struct {
	Text        string    `json:"text"` // normalized form
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Scores struct {
	Host  int `json:"host"`
	Guest int `json:"guest"`
}

// Room is the single shared document representing one two-player match,
// keyed by its 6-character code. All mutations go through the store so
// both sessions observe the same sequence of states.
type Room struct {
	Code             string      `json:"code"`
	HostID           string      `json:"hostId"`
	GuestID          string      `json:"guestId,omitempty"`
	Status           RoomStatus  `json:"status"`
	CurrentRound     int         `json:"currentRound"`
	TotalRounds      int         `json:"totalRounds"`
	TargetScore      int         `json:"targetScore"`
	CurrentPokemon   *Pokemon    `json:"currentPokemon,omitempty"`
	Scores           Scores      `json:"scores"`
	RoundWinner      RoundWinner `json:"roundWinner,omitempty"`
	GameWinner       PlayerRole  `json:"gameWinner,omitempty"`
	HostGuess        *Guess      `json:"hostGuess,omitempty"`
	GuestGuess       *Guess      `json:"guestGuess,omitempty"`
	CountdownStartAt *time.Time  `json:"countdownStartAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`

	// Maintained by the store, not part of the shared document.
	lastActive time.Time
}

func newRoom(code, hostID string, cfg *Config) *Room {
	return &Room{
		Code:        code,
		HostID:      hostID,
		Status:      StatusWaiting,
		TotalRounds: cfg.rounds,
		TargetScore: cfg.targetScore,
	}
}

func (r *Room) guessBy(role PlayerRole) *Guess {
	if role == RoleHost {
		return r.HostGuess
	}
	return r.GuestGuess
}

func (r *Room) setGuess(role PlayerRole, g *Guess) {
	if role == RoleHost {
		r.HostGuess = g
	} else {
		r.GuestGuess = g
	}
}

func (r *Room) scoreOf(role PlayerRole) int {
	if role == RoleHost {
		return r.Scores.Host
	}
	return r.Scores.Guest
}

func (r *Room) addPoint(role PlayerRole) {
	if role == RoleHost {
		r.Scores.Host++
	} else {
		r.Scores.Guest++
	}
}

// leader returns the strictly higher scorer, or "" on a tie.
func (r *Room) leader() PlayerRole {
	switch {
	case r.Scores.Host > r.Scores.Guest:
		return RoleHost
	case r.Scores.Guest > r.Scores.Host:
		return RoleGuest
	default:
		return ""
	}
}

// clearRound resets the per-round fields at the start of a new round.
func (r *Room) clearRound() {
	r.HostGuess = nil
	r.GuestGuess = nil
	r.RoundWinner = ""
}

// startRound moves the room into the countdown for the given round.
// The countdown start is stamped with the store's clock, not a client's,
// so both players converge on the same "go" instant.
func (r *Room) startRound(round int, p *Pokemon, now time.Time) {
	r.clearRound()
	r.CurrentRound = round
	r.CurrentPokemon = p
	r.Status = StatusCountdown
	r.CountdownStartAt = &now
}

// resolve settles the round after the player in last recorded a guess. It
// must run inside the store's Modify so both players' resolutions observe
// each other's recorded guesses.
func (r *Room) resolve(last PlayerRole) {
	mine := r.guessBy(last)
	other := r.guessBy(last.other())

	switch {
	case mine.Correct:
		// First correct guess wins the round outright.
		r.addPoint(last)
		r.RoundWinner = RoundWinner(last)
		if r.CurrentRound >= r.TotalRounds || r.scoreOf(last) >= r.TargetScore {
			r.finish()
		} else {
			r.Status = StatusRoundEnd
		}
	case other != nil && other.Correct:
		// Round was already decided in the other player's favor; this
		// guess is recorded for the history, nothing else changes.
	case other != nil:
		// Both players missed.
		r.RoundWinner = RoundWinnerNone
		if r.CurrentRound >= r.TotalRounds {
			r.finish()
		} else {
			r.Status = StatusRoundEnd
		}
	default:
		// First guess of the round and it was wrong; the round stays open
		// for the other player.
	}
}

func (r *Room) finish() {
	r.Status = StatusFinished
	r.GameWinner = r.leader()
}

func (r *Room) clone() *Room {
	out := *r
	if r.CurrentPokemon != nil {
		p := *r.CurrentPokemon
		out.CurrentPokemon = &p
	}
	if r.HostGuess != nil {
		g := *r.HostGuess
		out.HostGuess = &g
	}
	if r.GuestGuess != nil {
		g := *r.GuestGuess
		out.GuestGuess = &g
	}
	if r.CountdownStartAt != nil {
		t := *r.CountdownStartAt
		out.CountdownStartAt = &t
	}
	return &out
}
