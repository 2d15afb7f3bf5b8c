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

// Package objstore implements the object-store-backed Cache Engine:
// a flat, content-addressed, capacity-bounded, LRU-evicting blob
// store sharded 128 ways across an S3-compatible bucket.
package objstore

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tencent/yadcc-sub001/aws"
)

// DefaultClient is the HTTP client used for requests made from this
// package unless a client explicitly overrides it.
var DefaultClient = http.Client{
	Transport: &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   8,
		DisableCompression:    true,
		DialContext: (&net.Dialer{
			Timeout: 2 * time.Second,
		}).DialContext,
	},
}

// ErrNotFound is returned by Client.Get when the object is absent.
var ErrNotFound = errors.New("objstore: object not found")

// Client is a small signed HTTP client for an S3-compatible bucket,
// built directly on the shared aws.SigningKey/SignV4 primitives
// (rather than the general-purpose bucket-filesystem abstraction
// those primitives also back elsewhere) since the cache's flat,
// 128-shard layout has no use for a hierarchical filesystem view.
type Client struct {
	Key    *aws.SigningKey
	Bucket string
	// HTTP is the client used to issue requests; DefaultClient if nil.
	HTTP *http.Client
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &DefaultClient
}

// queryEscape mirrors S3's escaping rules: percent-escape everything
// that url.QueryEscape does, except turn "+" back into "%20".
// pathEscape additionally turns "%2F" back into "/" so nested keys
// round-trip.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func pathEscape(s string) string {
	return strings.ReplaceAll(queryEscape(s), "%2F", "/")
}

func (c *Client) uri(key string, query string) string {
	base := c.Key.BaseURI
	if base == "" {
		base = "https://s3." + c.Key.Region + ".amazonaws.com/" + c.Bucket
	} else {
		base = base + "/" + c.Bucket
	}
	if key != "" {
		base += "/" + pathEscape(key)
	}
	if query != "" {
		base += "?" + query
	}
	return base
}

// flakyDo retries a request once on a 500/503 response, rewinding
// the body via req.GetBody if the request has one.
func flakyDo(cl *http.Client, req *http.Request) (*http.Response, error) {
	hasBody := req.GetBody != nil
	res, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != 500 && res.StatusCode != 503 {
		return res, nil
	}
	res.Body.Close()
	if hasBody {
		body, berr := req.GetBody()
		if berr != nil {
			return res, nil
		}
		req.Body = body
	}
	return cl.Do(req)
}

// Get fetches the object stored under key.
func (c *Client) Get(key string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.uri(key, ""), nil)
	if err != nil {
		return nil, err
	}
	c.Key.SignV4(req, nil)
	res, err := flakyDo(c.client(), req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("objstore: GET %s: status %s", key, res.Status)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Put stores value under key.
func (c *Client) Put(key string, value []byte) error {
	req, err := http.NewRequest(http.MethodPut, c.uri(key, ""), nil)
	if err != nil {
		return err
	}
	c.Key.SignV4(req, value)
	res, err := flakyDo(c.client(), req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("objstore: PUT %s: status %s", key, res.Status)
	}
	return nil
}

// ObjectEntry is one row of a List response.
type ObjectEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type listBucketResult struct {
	IsTruncated bool   `xml:"IsTruncated"`
	NextMarker  string `xml:"NextMarker"`
	Contents    []struct {
		Key          string `xml:"Key"`
		Size         int64  `xml:"Size"`
		LastModified string `xml:"LastModified"`
	} `xml:"Contents"`
}

// List enumerates every object under prefix, paginating via the
// marker/is-truncated protocol, with 3 retries and a 100ms backoff
// on 500/503 responses per page.
func (c *Client) List(prefix string) ([]ObjectEntry, error) {
	var out []ObjectEntry
	marker := ""
	for {
		page, next, truncated, err := c.listPage(prefix, marker)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if !truncated {
			break
		}
		marker = next
	}
	return out, nil
}

func (c *Client) listPage(prefix, marker string) ([]ObjectEntry, string, bool, error) {
	const maxRetries = 3
	const backoff = 100 * time.Millisecond

	q := url.Values{}
	q.Set("prefix", prefix)
	if marker != "" {
		q.Set("marker", marker)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
		}
		req, err := http.NewRequest(http.MethodGet, c.uri("", q.Encode()), nil)
		if err != nil {
			return nil, "", false, err
		}
		c.Key.SignV4(req, nil)
		res, err := c.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if res.StatusCode == 500 || res.StatusCode == 503 {
			res.Body.Close()
			lastErr = fmt.Errorf("objstore: list %s: status %s", prefix, res.Status)
			continue
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil, "", false, fmt.Errorf("objstore: list %s: status %s", prefix, res.Status)
		}
		var parsed listBucketResult
		if err := xml.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return nil, "", false, err
		}
		entries := make([]ObjectEntry, 0, len(parsed.Contents))
		for _, e := range parsed.Contents {
			t, _ := time.Parse(time.RFC3339, e.LastModified)
			entries = append(entries, ObjectEntry{Key: e.Key, Size: e.Size, LastModified: t})
		}
		return entries, parsed.NextMarker, parsed.IsTruncated, nil
	}
	return nil, "", false, lastErr
}

const maxDeleteBatch = 1000

// DeleteMultiple deletes up to 1000 keys per call; larger slices are
// split by the caller (see Engine.Purge).
func (c *Client) DeleteMultiple(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > maxDeleteBatch {
		return fmt.Errorf("objstore: delete-multiple: %d keys exceeds batch limit %d", len(keys), maxDeleteBatch)
	}
	var body struct {
		XMLName xml.Name `xml:"Delete"`
		Object  []struct {
			Key string `xml:"Key"`
		} `xml:"Object"`
	}
	for _, k := range keys {
		body.Object = append(body.Object, struct {
			Key string `xml:"Key"`
		}{Key: k})
	}
	payload, err := xml.Marshal(&body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.uri("", "delete="), nil)
	if err != nil {
		return err
	}
	c.Key.SignV4(req, payload)
	req.Header.Set("Content-Length", strconv.Itoa(len(payload)))
	res, err := flakyDo(c.client(), req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("objstore: delete-multiple: status %s", res.Status)
	}
	return nil
}
