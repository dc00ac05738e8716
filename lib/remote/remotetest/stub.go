// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package remotetest provides a stub remote.Executor for testing
// orchestration logic without network access.
package remotetest

import (
	"io"
	"os"
	"sync"

	"github.com/pragmagrid/cloudscheduler/lib/remote"
)

// A Call records one operation performed on a StubExecutor.
type Call struct {
	Op   string // "run", "start", "upload", "download"
	Cmd  string // for run/start
	Src  string // for upload/download
	Dst  string // for upload/download
	Host string
	User string
}

// A StubExecutor is a remote.Executor whose behavior is scripted by
// the test.
type StubExecutor struct {
	Host string
	User string

	// RunFunc, if set, handles Run calls; otherwise Run succeeds
	// with empty output.
	RunFunc func(cmd string, stdin io.Reader) (stdout, stderr []byte, err error)
	// StartFunc, if set, handles Start calls; otherwise Start
	// succeeds.
	StartFunc func(cmd string) error
	// UploadFunc, if set, handles Upload calls; otherwise Upload
	// succeeds without copying anything.
	UploadFunc func(localDir, remoteDir string) error
	// DownloadFunc, if set, handles Download calls; otherwise
	// Download fails like a missing remote file would.
	DownloadFunc func(remotePath, localPath string) error

	calls []Call
	mtx   sync.Mutex
}

// Run implements remote.Executor.
func (sx *StubExecutor) Run(cmd string, stdin io.Reader) ([]byte, []byte, error) {
	sx.record(Call{Op: "run", Cmd: cmd, Host: sx.Host, User: sx.User})
	if sx.RunFunc != nil {
		return sx.RunFunc(cmd, stdin)
	}
	return nil, nil, nil
}

// Start implements remote.Executor.
func (sx *StubExecutor) Start(cmd string) error {
	sx.record(Call{Op: "start", Cmd: cmd, Host: sx.Host, User: sx.User})
	if sx.StartFunc != nil {
		return sx.StartFunc(cmd)
	}
	return nil
}

// Upload implements remote.Executor.
func (sx *StubExecutor) Upload(localDir, remoteDir string) error {
	sx.record(Call{Op: "upload", Src: localDir, Dst: remoteDir, Host: sx.Host, User: sx.User})
	if sx.UploadFunc != nil {
		return sx.UploadFunc(localDir, remoteDir)
	}
	return nil
}

// Download implements remote.Executor.
func (sx *StubExecutor) Download(remotePath, localPath string) error {
	sx.record(Call{Op: "download", Src: remotePath, Dst: localPath, Host: sx.Host, User: sx.User})
	if sx.DownloadFunc != nil {
		return sx.DownloadFunc(remotePath, localPath)
	}
	return &os.PathError{Op: "open", Path: remotePath, Err: os.ErrNotExist}
}

// Close implements remote.Executor.
func (sx *StubExecutor) Close() {}

// Calls returns the operations performed so far.
func (sx *StubExecutor) Calls() []Call {
	sx.mtx.Lock()
	defer sx.mtx.Unlock()
	return append([]Call(nil), sx.calls...)
}

func (sx *StubExecutor) record(call Call) {
	sx.mtx.Lock()
	defer sx.mtx.Unlock()
	sx.calls = append(sx.calls, call)
}

// A StubFactory hands out one shared StubExecutor template per
// host/user, and remembers every executor it created.
type StubFactory struct {
	// Configure, if set, is applied to each new StubExecutor.
	Configure func(*StubExecutor)

	created []*StubExecutor
	mtx     sync.Mutex
}

// New implements remote.Factory.
func (sf *StubFactory) New(host, user string) remote.Executor {
	sx := &StubExecutor{Host: host, User: user}
	if sf.Configure != nil {
		sf.Configure(sx)
	}
	sf.mtx.Lock()
	defer sf.mtx.Unlock()
	sf.created = append(sf.created, sx)
	return sx
}

// Calls returns the operations performed on all created executors,
// in creation order.
func (sf *StubFactory) Calls() []Call {
	sf.mtx.Lock()
	defer sf.mtx.Unlock()
	var calls []Call
	for _, sx := range sf.created {
		calls = append(calls, sx.Calls()...)
	}
	return calls
}
