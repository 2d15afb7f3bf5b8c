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
	"strings"
	"testing"

	"github.com/Tencent/yadcc-sub001/aws"
)

func testClient() *Client {
	return &Client{
		Key:    aws.DeriveKey("https://cache.example.internal", "AKID", "secret", "us-east-1", "s3"),
		Bucket: "yadcc-cache",
	}
}

func TestURIPathStyleWithBaseURI(t *testing.T) {
	c := testClient()
	u := c.uri("3/deadbeef", "")
	want := "https://cache.example.internal/yadcc-cache/3/deadbeef"
	if u != want {
		t.Fatalf("got %q, want %q", u, want)
	}
}

func TestURIWithQuery(t *testing.T) {
	c := testClient()
	u := c.uri("", "prefix=3%2F")
	if !strings.HasSuffix(u, "?prefix=3%2F") {
		t.Fatalf("got %q, expected query suffix", u)
	}
}

func TestPathEscapePreservesSlashes(t *testing.T) {
	got := pathEscape("3/some key/with spaces")
	if !strings.Contains(got, "3/some%20key/with%20spaces") {
		t.Fatalf("got %q", got)
	}
}

func TestDeleteMultipleRejectsOversizedBatch(t *testing.T) {
	c := testClient()
	keys := make([]string, maxDeleteBatch+1)
	for i := range keys {
		keys[i] = "k"
	}
	if err := c.DeleteMultiple(keys); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}

func TestDeleteMultipleEmptyIsNoop(t *testing.T) {
	c := testClient()
	if err := c.DeleteMultiple(nil); err != nil {
		t.Fatalf("DeleteMultiple(nil): %v", err)
	}
}
