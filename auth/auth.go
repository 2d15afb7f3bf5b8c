// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package auth implements the token-based RPC access-control list
// the daemon's handlers gate every request on. A TokenVerifier
// rejects every token until a scheduler heartbeat response first
// populates it; deny-all-by-default, not allow-all.
package auth

import "sync"

// TokenVerifier holds the current set of tokens acceptable for RPC
// calls. The zero value rejects every token: it must be updated at
// least once (via Update) before any caller should be let through.
type TokenVerifier struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenVerifier constructs a verifier that accepts exactly the
// given tokens.
func NewTokenVerifier(tokens []string) *TokenVerifier {
	v := &TokenVerifier{}
	v.Update(tokens)
	return v
}

// Verify reports whether token is currently acceptable. An empty or
// uninitialized verifier accepts nothing.
func (v *TokenVerifier) Verify(token string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.tokens[token]
	return ok
}

// Update replaces the acceptable-token set wholesale, as the daemon
// does after each heartbeat response carries a fresh token list from
// the scheduler.
func (v *TokenVerifier) Update(tokens []string) {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	v.mu.Lock()
	v.tokens = set
	v.mu.Unlock()
}
