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

package heartbeat

import (
	"testing"
	"time"

	"github.com/Tencent/yadcc-sub001/auth"
	"github.com/Tencent/yadcc-sub001/engine"
	"github.com/Tencent/yadcc-sub001/scheduler"
)

func TestStartAppliesTokensAndExpiry(t *testing.T) {
	stub, srv := scheduler.NewStub()
	defer srv.Close()
	stub.SetNextResponse(scheduler.HeartbeatResponse{AcceptableTokens: []string{"tok-a"}})

	e, err := engine.New(engine.Config{MaxRemoteTasks: 4, TemporaryDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { e.Stop(); e.Join() }()

	verifier := auth.NewTokenVerifier(nil)
	c := New(Config{
		SchedulerURI: srv.URL,
		Location:     "127.0.0.1:9000",
		Interval:     50 * time.Millisecond,
		Engine:       e,
		Verifier:     verifier,
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if !verifier.Verify("tok-a") {
		t.Fatal("expected the stub's token to be applied after the initial heartbeat")
	}
	last := stub.LastRequest()
	if last == nil || last.Location != "127.0.0.1:9000" || last.NextHeartbeatInMs != defaultExpiryMs {
		t.Fatalf("got %v, want recorded heartbeat request", last)
	}
}

func TestStopSendsZeroExpiryHeartbeat(t *testing.T) {
	stub, srv := scheduler.NewStub()
	defer srv.Close()

	c := New(Config{
		SchedulerURI: srv.URL,
		Location:     "h:1",
		Interval:     time.Hour,
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	c.Stop()

	last := stub.LastRequest()
	if last == nil || last.NextHeartbeatInMs != 0 {
		t.Fatalf("got %v, want a final heartbeat with zero expiry", last)
	}
}
