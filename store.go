/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"sync"
	"time"
)

// RoomSnapshot is what subscribers receive on every change to a room.
// Room is nil once the document has been deleted.
type RoomSnapshot struct {
	Room *Room
}

func (s RoomSnapshot) Exists() bool { return s.Room != nil }

// RoomStore is the only communication channel between the two sessions of a
// match. Modify is the atomic read-modify-write every update that branches
// on current shared state must go through; it passes the store's clock into
// fn so timestamps are store-assigned rather than taken from a client.
type RoomStore interface {
	Create(code string, room *Room) error
	Read(code string) (*Room, error)
	Modify(code string, fn func(r *Room, now time.Time) error) (*Room, error)
	Delete(code string) error
	Subscribe(code string) (<-chan RoomSnapshot, func())
	Now() time.Time
}

type subscriber struct {
	ch chan RoomSnapshot
}

// MemStore is the in-process RoomStore. Each subscriber channel carries at
// most one in-flight snapshot: a slow consumer never blocks the store and
// always observes the latest merged state, never a backlog of intermediates.
type MemStore struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	subs    map[string]map[int]*subscriber
	nextSub int
	clock   func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		rooms: make(map[string]*Room),
		subs:  make(map[string]map[int]*subscriber),
		clock: time.Now,
	}
}

func (s *MemStore) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

// Create fails with ErrRoomExists if the code is already taken, and stamps
// the room's creation time with the store clock.
func (s *MemStore) Create(code string, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; ok {
		return ErrRoomExists
	}

	r := room.clone()
	r.CreatedAt = s.clock()
	r.lastActive = r.CreatedAt
	s.rooms[code] = r
	s.notifyLocked(code)
	return nil
}

func (s *MemStore) Read(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.clone(), nil
}

// Modify applies fn to the room under the store lock and notifies
// subscribers. If fn returns an error the room is left untouched.
func (s *MemStore) Modify(code string, fn func(r *Room, now time.Time) error) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	now := s.clock()
	next := r.clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.lastActive = now
	s.rooms[code] = next
	s.notifyLocked(code)
	return next.clone(), nil
}

func (s *MemStore) Delete(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, code)
	s.notifyLocked(code)
	return nil
}

// Subscribe registers for change notifications on one room. The current
// state (or absence) is delivered immediately. The returned func
// unsubscribes and closes the channel.
func (s *MemStore) Subscribe(code string) (<-chan RoomSnapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	sub := &subscriber{ch: make(chan RoomSnapshot, 1)}
	if s.subs[code] == nil {
		s.subs[code] = make(map[int]*subscriber)
	}
	s.subs[code][id] = sub

	s.pushLocked(sub, s.snapshotLocked(code))

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if set, ok := s.subs[code]; ok {
			if cur, ok := set[id]; ok {
				delete(set, id)
				close(cur.ch)
			}
			if len(set) == 0 {
				delete(s.subs, code)
			}
		}
	}

	return sub.ch, cancel
}

func (s *MemStore) snapshotLocked(code string) RoomSnapshot {
	if r, ok := s.rooms[code]; ok {
		return RoomSnapshot{Room: r.clone()}
	}
	return RoomSnapshot{}
}

func (s *MemStore) notifyLocked(code string) {
	snap := s.snapshotLocked(code)
	for _, sub := range s.subs[code] {
		s.pushLocked(sub, snap)
	}
}

// pushLocked replaces any undelivered snapshot with the latest one.
func (s *MemStore) pushLocked(sub *subscriber, snap RoomSnapshot) {
	select {
	case sub.ch <- snap:
	default:
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

// Reap deletes rooms idle longer than cutoff and returns how many went.
func (s *MemStore) Reap(cutoff time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.clock().Add(-cutoff)
	reaped := 0
	for code, r := range s.rooms {
		if r.lastActive.Before(deadline) {
			delete(s.rooms, code)
			s.notifyLocked(code)
			reaped++
		}
	}
	return reaped
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout.
func (s *MemStore) reaperLoop(cfg *Config, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		if n := s.Reap(idleTimeout); n > 0 {
			logf(cfg, "ROOMS: Reaped %d idle room(s)", n)
		}
	}
}
