// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/remote/remotetest"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ReadinessSuite{})

type ReadinessSuite struct {
	factory *remotetest.StubFactory
	det     *Detector
	ctx     context.Context
	pinged  []string
	pingOK  bool
}

func (s *ReadinessSuite) SetUpTest(c *check.C) {
	s.factory = &remotetest.StubFactory{}
	s.pinged = nil
	s.pingOK = true
	s.det = &Detector{
		NewExecutor: s.factory.New,
		Ping: func(host string) bool {
			s.pinged = append(s.pinged, host)
			return s.pingOK
		},
	}
	s.ctx = ctxlog.Context(context.Background(), ctxlog.TestLogger(c))
}

// serveLog makes every stub executor deliver the given provisioning
// log on Download.
func (s *ReadinessSuite) serveLog(text string) {
	s.factory.Configure = func(sx *remotetest.StubExecutor) {
		sx.DownloadFunc = func(remotePath, localPath string) error {
			return os.WriteFile(localPath, []byte(text), 0644)
		}
	}
}

func (s *ReadinessSuite) TestPendingBeforeLogExists(c *check.C) {
	dagDir := makeTree(c, "1")
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, false)

	calls := s.factory.Calls()
	c.Assert(calls, check.HasLen, 1)
	c.Check(calls[0].Op, check.Equals, "download")
	c.Check(calls[0].Src, check.Equals, "/state/partition1/pcc/dag-ref1/pragma_boot.log")
	c.Check(s.pinged, check.HasLen, 0)
}

func (s *ReadinessSuite) TestPendingNoFQDN(c *check.C) {
	dagDir := makeTree(c, "1")
	s.serveLog("booting...\nnothing useful yet\n")
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, false)
	_, err = os.Stat(filepath.Join(dagDir, "vc11", "cluster_info"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *ReadinessSuite) TestPendingNoComputeNodes(c *check.C) {
	dagDir := makeTree(c, "1")
	s.serveLog("Found available public IP 1.2.3.4 -> cluster1.example.org\nRequesting 2 CPUs\n")
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, false)
	// cluster_info must stay unwritten so the next cycle retries
	// extraction instead of trusting an incomplete record.
	_, err = os.Stat(filepath.Join(dagDir, "vc11", "cluster_info"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *ReadinessSuite) TestFreeTextLogV1(c *check.C) {
	dagDir := makeTree(c, "1")
	s.serveLog("Found available public IP 1.2.3.4 -> cluster1.example.org\n" +
		"Requesting 2 CPUs\n" +
		"Allocated cluster myvc with compute nodes: node1, node2\n")
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, true)
	c.Check(result.FrontendFQDN, check.Equals, "cluster1.example.org")
	c.Check(strings.Contains(result.Summary, "Frontend: cluster1.example.org"), check.Equals, true)
	c.Check(strings.Contains(result.Summary, "Number of compute nodes: 2"), check.Equals, true)
	c.Check(s.pinged, check.DeepEquals, []string{"cluster1.example.org"})

	info, err := os.ReadFile(filepath.Join(dagDir, "vc11", "cluster_info"))
	c.Assert(err, check.IsNil)
	c.Check(string(info), check.Equals, "fqdn=cluster1.example.org\ncnodes=node1 node2")
}

func (s *ReadinessSuite) TestStructuredLogV2(c *check.C) {
	dagDir := makeTree(c, "2")
	s.factory.Configure = func(sx *remotetest.StubExecutor) {
		sx.DownloadFunc = func(remotePath, localPath string) error {
			return os.WriteFile(localPath, []byte("Allocated cluster myvc\nfqdn=cluster1.example.org\nnumcpus=2\ncnodes='node1\nnode2'\n"), 0644)
		}
		sx.RunFunc = func(cmd string, stdin io.Reader) ([]byte, []byte, error) {
			return []byte("myvc up\n"), nil, nil
		}
	}
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, true)
	c.Check(s.pinged, check.HasLen, 0)

	info, err := os.ReadFile(filepath.Join(dagDir, "vc11", "cluster_info"))
	c.Assert(err, check.IsNil)
	c.Check(string(info), check.Equals, "fqdn=cluster1.example.org\ncnodes=node1 node2")

	var listCmd string
	for _, call := range s.factory.Calls() {
		if call.Op == "run" {
			listCmd = call.Cmd
		}
	}
	c.Check(strings.HasSuffix(listCmd, "pragma list cluster myvc"), check.Equals, true, check.Commentf("cmd: %q", listCmd))
	out, err := os.ReadFile(filepath.Join(dagDir, "vc11", "pragma_list_cluster"))
	c.Assert(err, check.IsNil)
	c.Check(string(out), check.Equals, "myvc up\n")
}

func (s *ReadinessSuite) TestCachedRecordIsGroundTruth(c *check.C) {
	dagDir := makeTree(c, "1")
	infoPath := filepath.Join(dagDir, "vc11", "cluster_info")
	c.Assert(os.WriteFile(infoPath, []byte("fqdn=cluster1.example.org\ncnodes=node1 node2"), 0644), check.IsNil)
	s.factory.Configure = func(sx *remotetest.StubExecutor) {
		sx.DownloadFunc = func(remotePath, localPath string) error {
			c.Errorf("remote log fetched despite cached cluster_info")
			return errors.New("unexpected")
		}
	}
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, true)
	c.Check(strings.Contains(result.Summary, "Number of compute nodes: 2"), check.Equals, true)

	// the cached record is never rewritten
	info, err := os.ReadFile(infoPath)
	c.Assert(err, check.IsNil)
	c.Check(string(info), check.Equals, "fqdn=cluster1.example.org\ncnodes=node1 node2")
}

func (s *ReadinessSuite) TestInactiveCluster(c *check.C) {
	dagDir := makeTree(c, "1")
	s.serveLog("fqdn=cluster1.example.org\nnumcpus=0\n")
	s.pingOK = false
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, false)
}

func (s *ReadinessSuite) TestListClusterFailure(c *check.C) {
	dagDir := makeTree(c, "2")
	s.factory.Configure = func(sx *remotetest.StubExecutor) {
		sx.DownloadFunc = func(remotePath, localPath string) error {
			return os.WriteFile(localPath, []byte("Allocated cluster myvc\nfqdn=cluster1.example.org\nnumcpus=0\n"), 0644)
		}
		sx.RunFunc = func(cmd string, stdin io.Reader) ([]byte, []byte, error) {
			return nil, []byte("no such cluster"), errors.New("exit status 1")
		}
	}
	result, err := s.det.Check(s.ctx, dagDir, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(result.Ready, check.Equals, false)
}
