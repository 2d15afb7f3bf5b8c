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

package dcache

import (
	"errors"
	"testing"
)

func TestNullEngineAlwaysMisses(t *testing.T) {
	var e Engine = NewNull()
	if err := e.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, err := e.Get("k")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("got err %v, want ErrMiss", err)
	}
	keys, err := e.Keys()
	if err != nil || len(keys) != 0 {
		t.Fatalf("got keys %v, err %v, want empty/nil", keys, err)
	}
	if err := e.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
}
