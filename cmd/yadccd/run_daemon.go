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

package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tencent/yadcc-sub001/auth"
	"github.com/Tencent/yadcc-sub001/config"
	"github.com/Tencent/yadcc-sub001/daemon"
	"github.com/Tencent/yadcc-sub001/dcache"
	"github.com/Tencent/yadcc-sub001/engine"
	"github.com/Tencent/yadcc-sub001/heartbeat"
	"github.com/Tencent/yadcc-sub001/sysinfo"
)

func runDaemon(args []string) {
	daemonCmd := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := daemonCmd.String("c", "/etc/yadcc/servant.yaml", "path to the servant's YAML configuration file")
	listenEndpoint := daemonCmd.String("l", "127.0.0.1:8080", "endpoint to listen on for RPCs")

	if daemonCmd.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	minMem, err := config.ParseSize(cfg.MinMemoryForStartingNewTask)
	if err != nil {
		logger.Fatal(err)
	}
	capacity, err := config.ParseSize(cfg.ObjectStore.Capacity)
	if err != nil {
		logger.Fatal(err)
	}

	if cfg.TemporaryDir == "" {
		cfg.TemporaryDir = os.TempDir()
	}

	maxRemoteTasks := -1
	if cfg.MaxRemoteTasks != nil {
		maxRemoteTasks = *cfg.MaxRemoteTasks
	}

	e, err := engine.New(engine.Config{
		ServantPriority:                cfg.ServantPriority,
		MaxRemoteTasks:                 maxRemoteTasks,
		MinMemoryForStartingNewTask:    minMem,
		PoorMachineThresholdProcessors: cfg.PoorMachineThresholdProcessors,
		TemporaryDir:                   cfg.TemporaryDir,
		Logger:                         logger,
	})
	if err != nil {
		logger.Fatal(err)
	}

	cache, err := dcache.New(dcache.Config{
		Backend: cfg.CacheBackend,
		ObjectStore: dcache.ObjectStoreConfig{
			BaseURI:   cfg.ObjectStore.BaseURI,
			Region:    cfg.ObjectStore.Region,
			Bucket:    cfg.ObjectStore.Bucket,
			AccessKey: cfg.ObjectStore.AccessKey,
			Secret:    cfg.ObjectStore.Secret,
			Token:     cfg.ObjectStore.Token,
			EC2Role:   cfg.ObjectStore.EC2Role,
			Capacity:  capacity,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal(err)
	}

	registry := daemon.NewCompilerRegistry()
	for _, env := range cfg.Environments {
		registry.Register(daemon.EnvironmentDescriptor{
			Triple:  env.Triple,
			Version: env.Version,
			Digest:  env.Digest,
		}, env.Path)
	}

	// Deny every token until the first heartbeat response populates
	// the acceptable set.
	verifier := auth.NewTokenVerifier(nil)

	d := daemon.New(e, registry, verifier, &daemon.CacheWriter{Engine: cache, Logger: logger}, cfg.TemporaryDir, logger)

	httpl, err := net.Listen("tcp", *listenEndpoint)
	if err != nil {
		logger.Fatal(err)
	}
	server := &http.Server{Handler: d.Handler()}

	environments := make([]string, 0, len(cfg.Environments))
	for _, env := range cfg.Environments {
		environments = append(environments, env.Triple+"/"+env.Version)
	}

	hb := heartbeat.New(heartbeat.Config{
		SchedulerURI:    cfg.SchedulerURI,
		Token:           cfg.Token,
		Version:         version,
		Location:        *listenEndpoint,
		ServantPriority: cfg.ServantPriority,
		Interval:        time.Second,
		Environments:    environments,
		Engine:          e,
		Verifier:        verifier,
		SysMonitor:      sysinfo.NewMonitor(),
		LoadWindow:      time.Duration(cfg.CPULoadAverageSeconds) * time.Second,
		Logger:          logger,
	})
	if err := hb.Start(); err != nil {
		logger.Fatal(err)
	}

	go func() {
		logger.Printf("yadcc servant %s listening on %v\n", version, httpl.Addr())
		if err := server.Serve(httpl); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	hb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)

	e.Stop()
	e.Join()
}
