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
	"fmt"
	"log"

	"github.com/Tencent/yadcc-sub001/aws"
	"github.com/Tencent/yadcc-sub001/dcache/objstore"
)

// ObjectStoreConfig configures the "cos" backend. If AccessKey and
// Secret are both empty, credentials are instead resolved ambiently:
// from EC2Role (instance-role metadata) if set, otherwise from the
// environment/`~/.aws` files via aws.AmbientKey.
type ObjectStoreConfig struct {
	BaseURI   string
	Region    string
	Bucket    string
	AccessKey string
	Secret    string
	Token     string
	EC2Role   string
	Capacity  int64
}

// Config selects and configures one cache Engine backend by name:
// "cos" for the object-store-backed engine, "null" for the no-op
// engine. Unrecognized names are a configuration error.
type Config struct {
	Backend     string
	ObjectStore ObjectStoreConfig
	Logger      *log.Logger
}

// New constructs the Engine named by cfg.Backend.
func New(cfg Config) (Engine, error) {
	switch cfg.Backend {
	case "", "null":
		return NewNull(), nil
	case "cos":
		key, err := resolveSigningKey(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("dcache: resolving object-store credentials: %w", err)
		}
		client := &objstore.Client{Key: key, Bucket: cfg.ObjectStore.Bucket}
		return objstore.New(client, cfg.ObjectStore.Capacity, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("dcache: unknown backend %q", cfg.Backend)
	}
}

// resolveSigningKey derives the object-store signing key. Explicit
// AccessKey/Secret take priority; otherwise credentials are resolved
// ambiently, preferring EC2 instance-role metadata (EC2Role) over the
// environment/`~/.aws` files.
func resolveSigningKey(cfg ObjectStoreConfig) (*aws.SigningKey, error) {
	if cfg.AccessKey != "" || cfg.Secret != "" {
		key := aws.DeriveKey(cfg.BaseURI, cfg.AccessKey, cfg.Secret, cfg.Region, "s3")
		key.Token = cfg.Token
		return key, nil
	}
	if cfg.EC2Role != "" {
		return aws.EC2Role(cfg.EC2Role, "s3", nil)
	}
	return aws.AmbientKey("s3", nil)
}
