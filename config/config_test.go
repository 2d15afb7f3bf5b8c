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

package config

import (
	"os"
	"path/filepath"
	"testing"

	yamlv2 "gopkg.in/yaml.v2"
)

const testYAML = `
scheduler_uri: http://scheduler.internal:8080
token: s3cr3t
servant_priority: dedicated
max_remote_tasks: 8
min_memory_for_starting_new_task: 1Gi
poor_machine_threshold_processors: 2
temporary_dir: /tmp/yadcc
cpu_load_average_seconds: 10
cache_backend: cos
object_store:
  region: ap-guangzhou
  bucket: yadcc-cache-1250000000
  access_key: AKID
  secret: s3cr3t-key
  capacity: 64Gi
environments:
  - triple: x86_64-linux-gnu
    version: "12.2.0"
    digest: abc123
    path: /usr/bin/x86_64-linux-gnu-gcc-12
`

func TestLoadParsesAllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servant.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchedulerURI != "http://scheduler.internal:8080" {
		t.Errorf("SchedulerURI = %q", cfg.SchedulerURI)
	}
	if cfg.MaxRemoteTasks == nil || *cfg.MaxRemoteTasks != 8 {
		t.Errorf("MaxRemoteTasks = %v", cfg.MaxRemoteTasks)
	}
	if cfg.ObjectStore.Bucket != "yadcc-cache-1250000000" {
		t.Errorf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if len(cfg.Environments) != 1 || cfg.Environments[0].Path != "/usr/bin/x86_64-linux-gnu-gcc-12" {
		t.Errorf("Environments = %+v", cfg.Environments)
	}
}

// TestLoadAgreesWithYAMLv2 cross-checks sigs.k8s.io/yaml's
// JSON-tag-driven decoding against a structurally equivalent
// gopkg.in/yaml.v2 decode of the same document, guarding against the
// two libraries silently disagreeing on a field.
func TestLoadAgreesWithYAMLv2(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servant.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var generic map[string]any
	if err := yamlv2.Unmarshal([]byte(testYAML), &generic); err != nil {
		t.Fatal(err)
	}
	if generic["token"] != cfg.Token {
		t.Errorf("token mismatch: yaml.v2 = %v, config.Load = %v", generic["token"], cfg.Token)
	}
	if generic["scheduler_uri"] != cfg.SchedulerURI {
		t.Errorf("scheduler_uri mismatch: yaml.v2 = %v, config.Load = %v", generic["scheduler_uri"], cfg.SchedulerURI)
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1024", 1024},
		{"1Ki", 1024},
		{"2Gi", 2 * (1 << 30)},
		{"1.5Mi", int64(1.5 * (1 << 20))},
		{"10G", 10_000_000_000},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if err != nil {
			t.Errorf("ParseSize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	if _, err := ParseSize("not-a-size"); err == nil {
		t.Fatal("expected error")
	}
}
