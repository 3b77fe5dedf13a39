// Package store bounds the memory of the ledger engine: a two-level LRU
// (bot identity -> conversation -> ledger state) with hard size caps and
// periodic inactivity sweeps.
package store

import (
	"log/slog"
	"time"

	"tallybot/internal/cache"
	"tallybot/internal/ledger"
	applog "tallybot/internal/log"
)

// Defaults sized for a process tracking a handful of bots with many chats.
const (
	DefaultMaxBots        = 50
	DefaultMaxChatsPerBot = 5000
	DefaultMaxIdle        = 72 * time.Hour
)

// Store owns every in-memory ledger state. Eviction is silent and expected:
// a handle obtained after eviction is a fresh empty state, never an error.
type Store struct {
	bots    *cache.LRU[int64, *botChats]
	maxBots int
	maxChat int
	maxIdle time.Duration
}

type botChats struct {
	chats *cache.LRU[int64, *ledger.State]
}

// New creates a store with the given caps. Non-positive arguments take the
// package defaults.
func New(maxBots, maxChatsPerBot int, maxIdle time.Duration) *Store {
	if maxBots <= 0 {
		maxBots = DefaultMaxBots
	}
	if maxChatsPerBot <= 0 {
		maxChatsPerBot = DefaultMaxChatsPerBot
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Store{
		bots:    cache.NewLRU[int64, *botChats](maxBots),
		maxBots: maxBots,
		maxChat: maxChatsPerBot,
		maxIdle: maxIdle,
	}
}

// Get returns the ledger state for a conversation, creating it on first
// reference. Every call refreshes recency at both levels, updates the
// activity clock, and trims oversized sub-collections back to their caps.
// The second result reports whether the state is newly created, so callers
// can hydrate settings from durable storage.
func (s *Store) Get(botID, chatID int64) (*ledger.State, bool) {
	bc, _ := s.bots.GetOrAdd(botID, func() *botChats {
		return &botChats{chats: cache.NewLRU[int64, *ledger.State](s.maxChat)}
	})
	st, created := bc.chats.GetOrAdd(chatID, ledger.NewState)
	st.Touch(time.Now())
	st.Trim()
	return st, created
}

// Peek returns an existing state without creating one.
func (s *Store) Peek(botID, chatID int64) (*ledger.State, bool) {
	bc, ok := s.bots.Get(botID)
	if !ok {
		return nil, false
	}
	return bc.chats.Get(chatID)
}

// Len returns the number of tracked bots and conversations.
func (s *Store) Len() (bots, chats int) {
	bots = s.bots.Len()
	s.bots.Range(func(_ int64, bc *botChats) bool {
		chats += bc.chats.Len()
		return true
	})
	return bots, chats
}

// SweepInactive drops every conversation idle past the threshold and clears
// the transient username caches of the ones staying. It returns the number
// of evicted conversations. Safe to run while Get is being called; removal
// happens under the per-cache lock.
func (s *Store) SweepInactive() int {
	deadline := time.Now().Add(-s.maxIdle)
	evicted := 0
	s.bots.Range(func(botID int64, bc *botChats) bool {
		n := bc.chats.DeleteFunc(func(_ int64, st *ledger.State) bool {
			return st.LastActivity().Before(deadline)
		})
		if n > 0 {
			slog.Info("Swept inactive conversations",
				applog.C(applog.ComponentStore),
				applog.FieldBotID, botID,
				applog.FieldEvicted, n)
		}
		evicted += n
		bc.chats.Range(func(_ int64, st *ledger.State) bool {
			st.ClearUserLookup()
			return true
		})
		return true
	})
	return evicted
}
