/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// SessionView is the read-only observable surface handed to the UI layer.
// It is a plain snapshot: the session signals changes on Events and the
// consumer re-reads the view.
type SessionView struct {
	RoomCode        string      `json:"roomCode,omitempty"`
	Role            PlayerRole  `json:"role,omitempty"`
	State           BattleState `json:"state"`
	Error           string      `json:"error,omitempty"`
	HasGuessed      bool        `json:"hasGuessed"`
	YourGuess       *Guess      `json:"yourGuess,omitempty"`
	OpponentGuessed bool        `json:"opponentGuessed"`
	Room            *RoomView   `json:"room,omitempty"`
}

// RoomView is the shared room document as shown to one player. The
// creature's name and dex number are withheld while the round is open;
// guesses are checked server-side, never by the client.
type RoomView struct {
	Code         string       `json:"code"`
	Status       RoomStatus   `json:"status"`
	CurrentRound int          `json:"currentRound"`
	TotalRounds  int          `json:"totalRounds"`
	TargetScore  int          `json:"targetScore"`
	Scores       Scores       `json:"scores"`
	RoundWinner  RoundWinner  `json:"roundWinner,omitempty"`
	GameWinner   PlayerRole   `json:"gameWinner,omitempty"`
	GuestJoined  bool         `json:"guestJoined"`
	Pokemon      *PokemonView `json:"pokemon,omitempty"`
	CountdownMs  int64        `json:"countdownMs,omitempty"`
}

type PokemonView struct {
	ID       int    `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"imageUrl"`
}

// View assembles the current observable state.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{
		RoomCode: s.code,
		Role:     s.role,
		State:    s.state,
		Error:    s.errMsg,
	}

	r := s.room
	if r == nil {
		return v
	}

	rv := &RoomView{
		Code:         r.Code,
		Status:       r.Status,
		CurrentRound: r.CurrentRound,
		TotalRounds:  r.TotalRounds,
		TargetScore:  r.TargetScore,
		Scores:       r.Scores,
		RoundWinner:  r.RoundWinner,
		GameWinner:   r.GameWinner,
		GuestJoined:  r.GuestID != "",
	}

	if r.CurrentPokemon != nil {
		pv := &PokemonView{ImageURL: r.CurrentPokemon.ImageURL}
		if r.Status == StatusRoundEnd || r.Status == StatusFinished {
			pv.ID = r.CurrentPokemon.ID
			pv.Name = r.CurrentPokemon.Name
		}
		rv.Pokemon = pv
	}

	if r.Status == StatusCountdown && r.CountdownStartAt != nil {
		remaining := r.CountdownStartAt.Add(s.cfg.countdown).Sub(s.store.Now())
		if remaining < 0 {
			remaining = 0
		}
		rv.CountdownMs = remaining.Milliseconds()
	}

	if s.role != "" {
		if mine := r.guessBy(s.role); mine != nil {
			g := *mine
			v.HasGuessed = true
			v.YourGuess = &g
		}
		v.OpponentGuessed = r.guessBy(s.role.other()) != nil
	}

	v.Room = rv
	return v
}
