// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package remote runs commands and copies files on resource hosts.
package remote

import (
	"io"
	"os"
)

// An Executor runs commands and transfers files on one remote target
// host. Implementations are not required to be goroutine-safe: the
// scheduler is strictly sequential.
type Executor interface {
	// Run executes cmd on the target and waits for it to finish.
	Run(cmd string, stdin io.Reader) (stdout, stderr []byte, err error)

	// Start executes cmd detached from this process: the command
	// keeps running after the connection (and this process) goes
	// away. Start returns as soon as the command has been handed
	// off.
	Start(cmd string) error

	// Upload recursively copies the local directory localDir to
	// remoteDir on the target, creating remoteDir if needed.
	Upload(localDir, remoteDir string) error

	// Download copies the remote file remotePath to localPath,
	// overwriting it if present.
	Download(remotePath, localPath string) error

	// Close releases any cached connections.
	Close()
}

// A Factory returns an Executor for the given target host and remote
// username. The scheduler components take a Factory so tests can
// substitute a stub transport.
type Factory func(host, user string) Executor

// LocalHostname reports this host's name, used to decide whether a
// resource host needs remote staging at all.
func LocalHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}
