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

package objstore

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tencent/yadcc-sub001/aws"
)

// fakeBucket is a minimal in-memory stand-in for an S3-compatible
// bucket: enough of the list-bucket-result/delete-multiple-objects
// wire protocol for Client/Engine to drive against, with no real
// network or object store involved.
type fakeBucket struct {
	mu          sync.Mutex
	objects     map[string][]byte
	modified    map[string]time.Time
	deleteCalls [][]string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
	}
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/testbucket")
	path = strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[path] = body
		b.modified[path] = time.Date(2024, 1, 1, 0, 0, len(b.objects), 0, time.UTC)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && r.URL.Query().Has("prefix"):
		prefix := r.URL.Query().Get("prefix")
		var result listBucketResult
		for key, val := range b.objects {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			result.Contents = append(result.Contents, struct {
				Key          string `xml:"Key"`
				Size         int64  `xml:"Size"`
				LastModified string `xml:"LastModified"`
			}{
				Key:          key,
				Size:         int64(len(val)),
				LastModified: b.modified[key].Format(time.RFC3339),
			})
		}
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(&result)

	case r.Method == http.MethodGet:
		val, ok := b.objects[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(val)

	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		var req struct {
			XMLName xml.Name `xml:"Delete"`
			Object  []struct {
				Key string `xml:"Key"`
			} `xml:"Object"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := xml.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var batch []string
		for _, o := range req.Object {
			batch = append(batch, o.Key)
			delete(b.objects, o.Key)
			delete(b.modified, o.Key)
		}
		b.deleteCalls = append(b.deleteCalls, batch)
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

// TestEngineEndToEndEviction drives Put/Keys/Purge end to end against
// a capacity-1000B engine loaded with 12 keys of 100B each, written
// with monotonically increasing timestamps. Keys() must report all 12
// and queue the oldest 2 for removal; Purge() must then delete
// exactly those 2 in a single batched delete-multiple-objects call.
func TestEngineEndToEndEviction(t *testing.T) {
	bucket := newFakeBucket()
	server := httptest.NewServer(bucket)
	defer server.Close()

	client := &Client{
		Key:    &aws.SigningKey{BaseURI: server.URL, Region: "us-east-1", AccessKey: "test", Service: "s3"},
		Bucket: "testbucket",
	}
	e := New(client, 1000, nil)

	const n = 12
	const entrySize = 100
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%02d", i)
		keys[i] = key
		value := []byte(strings.Repeat("x", entrySize))
		if err := e.Put(key, value); err != nil {
			t.Fatalf("Put(%q): %v", key, err)
		}
	}

	got, err := e.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != n {
		t.Fatalf("Keys() returned %d entries, want %d", len(got), n)
	}
	sortedGot := append([]string(nil), got...)
	sort.Strings(sortedGot)
	sortedWant := append([]string(nil), keys...)
	sort.Strings(sortedWant)
	for i := range sortedGot {
		if sortedGot[i] != sortedWant[i] {
			t.Fatalf("Keys() = %v, want %v", sortedGot, sortedWant)
		}
	}

	if err := e.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	bucket.mu.Lock()
	calls := bucket.deleteCalls
	remaining := len(bucket.objects)
	bucket.mu.Unlock()

	if len(calls) != 1 {
		t.Fatalf("got %d delete-multiple calls, want exactly 1: %v", len(calls), calls)
	}
	if len(calls[0]) != 2 {
		t.Fatalf("got %d keys in the single delete batch, want 2: %v", len(calls[0]), calls[0])
	}

	// The oldest 2 entries (lowest index, earliest LastModified) must
	// be the ones evicted: 10*100B fits in the 1000B capacity, the
	// 11th and 12th written push it over.
	wantEvicted := map[string]bool{"key-00": true, "key-01": true}
	for _, evictedKey := range calls[0] {
		plainKey := keyFromObjectPath(evictedKey)
		if !wantEvicted[plainKey] {
			t.Fatalf("evicted unexpected key %q (raw %q)", plainKey, evictedKey)
		}
	}
	if n-remaining != 2 {
		t.Fatalf("bucket retains %d objects, want %d", remaining, n-2)
	}

	// A subsequent Purge with nothing pending is a no-op: no further
	// delete-multiple calls are issued.
	if err := e.Purge(); err != nil {
		t.Fatalf("second Purge: %v", err)
	}
	bucket.mu.Lock()
	secondCallCount := len(bucket.deleteCalls)
	bucket.mu.Unlock()
	if secondCallCount != 1 {
		t.Fatalf("Purge issued a delete-multiple call with nothing pending")
	}
}

// TestEngineGetAfterPutFindsValue checks the narrower put/get
// property: after Put(k, v), Get(k) returns v.
func TestEngineGetAfterPutFindsValue(t *testing.T) {
	bucket := newFakeBucket()
	server := httptest.NewServer(bucket)
	defer server.Close()

	client := &Client{
		Key:    &aws.SigningKey{BaseURI: server.URL, Region: "us-east-1", AccessKey: "test", Service: "s3"},
		Bucket: "testbucket",
	}
	e := New(client, 1<<20, nil)

	if err := e.Put("hello", []byte("world")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := e.Get("hello")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("Get(%q) = %q, want %q", "hello", got, "world")
	}
}
