// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"context"
	"flag"
	"io"

	"github.com/pragmagrid/cloudscheduler/lib/booked"
	"github.com/pragmagrid/cloudscheduler/lib/cmd"
	"github.com/pragmagrid/cloudscheduler/lib/config"
	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/dag"
	"github.com/pragmagrid/cloudscheduler/lib/provision"
	"github.com/pragmagrid/cloudscheduler/lib/remote"
	"github.com/prometheus/client_golang/prometheus"
)

// Command runs one poll cycle over all reservations. It is meant to
// be invoked periodically from a timer, not left running.
var Command cmd.Handler = checkCommand{}

type checkCommand struct{}

func (checkCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	configFile := flags.String("config", "cloud-scheduler.yml", "configuration `file`")
	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	}
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		ctxlog.New(stderr, "text", "error").WithError(err).Error("loading configuration failed")
		return 1
	}
	logger := ctxlog.New(stderr, cfg.Logging.Format, cfg.Logging.Level)
	ctx := ctxlog.Context(context.Background(), logger)

	newExecutor, err := remote.SSHFactory(cfg.Remote.PrivateKeyPath, cfg.Remote.Port)
	if err != nil {
		logger.WithError(err).Error("setting up SSH transport failed")
		return 1
	}
	client := &booked.Client{
		BaseURL:  cfg.Booked.URL,
		Username: cfg.Booked.Username,
		Password: cfg.Booked.Password,
		Insecure: cfg.Booked.Insecure,
	}
	sched := &Scheduler{
		Client: client,
		Config: cfg,
		Generator: &dag.Generator{
			Client:        client,
			RootDir:       cfg.Server.DAGDir,
			PublicKeyPath: cfg.Server.PublicKeyPath,
		},
		Launcher: &provision.Launcher{
			NewExecutor: newExecutor,
			SettleDelay: cfg.Provision.SettleDelay.Duration(),
		},
		Detector: &provision.Detector{NewExecutor: newExecutor},
		Teardown: &provision.Teardown{NewExecutor: newExecutor},
		Registry: prometheus.NewRegistry(),
	}
	err = sched.RunPass(ctx)
	if err != nil {
		logger.WithError(err).Error("poll cycle failed")
		return 1
	}
	return 0
}
