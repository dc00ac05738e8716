// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/remote/remotetest"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&LaunchSuite{})

type LaunchSuite struct {
	factory *remotetest.StubFactory
	slept   []time.Duration
	lnch    *Launcher
	ctx     context.Context
}

func (s *LaunchSuite) SetUpTest(c *check.C) {
	s.factory = &remotetest.StubFactory{}
	s.slept = nil
	s.lnch = &Launcher{
		NewExecutor: s.factory.New,
		SettleDelay: 10 * time.Second,
		LocalHost:   "scheduler.example.org",
		sleep:       func(d time.Duration) { s.slept = append(s.slept, d) },
	}
	s.ctx = ctxlog.Context(context.Background(), ctxlog.TestLogger(c))
}

func (s *LaunchSuite) TestLaunchV2(c *check.C) {
	dagDir := makeTree(c, "2")
	err := s.lnch.Launch(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)

	calls := s.factory.Calls()
	c.Assert(calls, check.HasLen, 2)
	c.Check(calls[0].Op, check.Equals, "upload")
	c.Check(calls[0].Src, check.Equals, dagDir)
	c.Check(calls[0].Dst, check.Equals, "/state/partition1/pcc/dag-ref1")
	c.Check(calls[0].Host, check.Equals, "rocks-92.example.org")
	c.Check(calls[0].User, check.Equals, "pragma")
	c.Check(calls[1].Op, check.Equals, "start")
	c.Check(calls[1].Cmd, check.Equals, "cd /state/partition1/pcc/dag-ref1; "+
		"/opt/python/bin/python /opt/pragma_boot/bin/pragma boot myvc 8 "+
		"key=/state/partition1/pcc/dag-ref1/public_key loglevel=DEBUG "+
		"logfile=/state/partition1/pcc/dag-ref1/pragma_boot.log")

	marker, err := os.ReadFile(filepath.Join(dagDir, "vc11", "hostname"))
	c.Assert(err, check.IsNil)
	c.Check(string(marker), check.Equals, "rocks-92.example.org")
	c.Check(s.slept, check.DeepEquals, []time.Duration{10 * time.Second})
}

func (s *LaunchSuite) TestLaunchV1(c *check.C) {
	dagDir := makeTree(c, "1")
	err := s.lnch.Launch(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)

	calls := s.factory.Calls()
	c.Assert(calls, check.HasLen, 2)
	c.Check(calls[1].Op, check.Equals, "start")
	c.Check(calls[1].Cmd, check.Equals, "cd /state/partition1/pcc/dag-ref1; "+
		"/opt/pragma_boot/bin/pragma_boot "+
		"--key=/state/partition1/pcc/dag-ref1/public_key --num_cpus=8 --vcname=myvc")
}

func (s *LaunchSuite) TestLaunchLocalResource(c *check.C) {
	dagDir := makeTree(c, "2")
	s.lnch.LocalHost = "rocks-92.example.org"
	err := s.lnch.Launch(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	for _, call := range s.factory.Calls() {
		c.Check(call.Op, check.Not(check.Equals), "upload")
	}
}

func (s *LaunchSuite) TestLaunchUnknownVersion(c *check.C) {
	dagDir := makeTree(c, "3")
	err := s.lnch.Launch(s.ctx, dagDir, "ref1")
	c.Check(err, check.ErrorMatches, `.*unknown pragma_boot version "3"`)
	c.Check(s.factory.Calls(), check.HasLen, 0)
	c.Check(s.slept, check.HasLen, 0)
}

func (s *LaunchSuite) TestLaunchFailureIsNotFatal(c *check.C) {
	dagDir := makeTree(c, "2")
	s.factory.Configure = func(sx *remotetest.StubExecutor) {
		sx.UploadFunc = func(localDir, remoteDir string) error {
			return os.ErrPermission
		}
	}
	// Staging failed, but launch still reports success: the
	// failure surfaces through readiness never being observed.
	err := s.lnch.Launch(s.ctx, dagDir, "ref1")
	c.Check(err, check.IsNil)
}
