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

// Package heartbeat implements the servant's periodic heartbeat
// client: once per period it composes a snapshot of local state
// (capacity, load, running grants, enumerated environments) and
// POSTs it to the scheduler, then applies the response — a set of
// newly expired grants and a replacement acceptable-token set —
// immediately and monotonically.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Tencent/yadcc-sub001/auth"
	"github.com/Tencent/yadcc-sub001/engine"
	"github.com/Tencent/yadcc-sub001/scheduler"
	"github.com/Tencent/yadcc-sub001/sysinfo"
)

const cmdTimeout = 10 * time.Second

// defaultExpiryMs is the next-expected-expiry a servant advertises on
// every heartbeat but the final one; losing three consecutive
// heartbeats at this period is what causes the scheduler to consider
// the servant's grants expired.
const defaultExpiryMs = 10_000

// Config configures a Client. Zero values are not valid; see New.
type Config struct {
	SchedulerURI    string
	Token           string
	Version         string
	Location        string
	ServantPriority string
	Interval        time.Duration
	Environments    []string

	Engine     *engine.Engine
	Verifier   *auth.TokenVerifier
	SysMonitor *sysinfo.Monitor
	// LoadWindow is how far back TryProcessorLoad samples; falls
	// back to the 1-minute load average if no sample is available
	// over that window yet.
	LoadWindow time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client runs the periodic heartbeat loop.
type Client struct {
	cfg Config

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// New constructs a Client. Call Start to begin the periodic loop.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.LoadWindow == 0 {
		cfg.LoadWindow = 15 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}

// Start sends an initial heartbeat synchronously (so capacity and
// tokens are populated before the caller starts accepting RPCs) and
// then begins the periodic loop on a background goroutine.
func (c *Client) Start() error {
	if err := c.sendOnce(defaultExpiryMs); err != nil {
		c.logf("heartbeat: initial heartbeat failed: %v", err)
	}

	c.mu.Lock()
	c.ticker = time.NewTicker(c.cfg.Interval)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop()
	return nil
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ticker.C:
			if err := c.sendOnce(defaultExpiryMs); err != nil {
				c.logf("heartbeat: %v", err)
			}
		case <-c.stop:
			return
		}
	}
}

// Stop sends a final heartbeat with expiry 0 (signaling departure to
// the scheduler) and stops the periodic loop. It blocks until the
// loop goroutine has exited.
func (c *Client) Stop() {
	c.mu.Lock()
	ticker, stop, done := c.ticker, c.stop, c.done
	c.mu.Unlock()

	if err := c.sendOnce(0); err != nil {
		c.logf("heartbeat: final heartbeat failed: %v", err)
	}
	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	<-done
}

func (c *Client) sendOnce(expiryMs int64) error {
	req := c.buildRequest(expiryMs)

	body, err := json.Marshal(&req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SchedulerURI+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("heartbeat: request to %s timed out", c.cfg.SchedulerURI)
		}
		return fmt.Errorf("heartbeat: request to %s failed: %w", c.cfg.SchedulerURI, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: scheduler returned status %s", res.Status)
	}

	var resp scheduler.HeartbeatResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("heartbeat: decoding response: %w", err)
	}
	c.apply(resp)
	return nil
}

func (c *Client) buildRequest(expiryMs int64) scheduler.HeartbeatRequest {
	req := scheduler.HeartbeatRequest{
		Location:          c.cfg.Location,
		Token:             c.cfg.Token,
		Version:           c.cfg.Version,
		NextHeartbeatInMs: expiryMs,
		ServantPriority:   c.cfg.ServantPriority,
		Environments:      c.cfg.Environments,
	}

	if c.cfg.SysMonitor != nil {
		req.NumProcessors = sysinfo.NumProcessors()
		if total, err := sysinfo.TotalMemory(); err == nil {
			req.TotalMemoryBytes = total
		}
		if avail, err := sysinfo.MemoryAvailable(); err == nil {
			req.AvailableMemoryBytes = avail
		}
		if load, ok := c.cfg.SysMonitor.TryProcessorLoad(c.cfg.LoadWindow); ok {
			req.CurrentLoad = load
		} else if load, err := sysinfo.LoadAverageInLastMinute(); err == nil {
			req.CurrentLoad = load
		}
	}

	if c.cfg.Engine != nil {
		maxTasks, reason := c.cfg.Engine.GetMaxTasks()
		req.MaxTasks = maxTasks
		if maxTasks == 0 {
			req.NotAcceptingReason = reason.String()
		}
		for _, t := range c.cfg.Engine.Enumerate() {
			req.RunningTasks = append(req.RunningTasks, scheduler.RunningTask{
				GrantID: t.GrantID,
				TaskID:  t.TaskID,
			})
		}
	}

	return req
}

func (c *Client) apply(resp scheduler.HeartbeatResponse) {
	if c.cfg.Engine != nil && len(resp.ExpiredGrantIDs) > 0 {
		expired := make(map[uint64]bool, len(resp.ExpiredGrantIDs))
		for _, id := range resp.ExpiredGrantIDs {
			expired[id] = true
		}
		c.cfg.Engine.KillExpired(expired)
	}
	if c.cfg.Verifier != nil {
		c.cfg.Verifier.Update(resp.AcceptableTokens)
	}
}
