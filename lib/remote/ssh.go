// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package remote

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// An SSHExecutor is an Executor that reaches its target over SSH,
// authenticating with a private key. It reconnects automatically
// after errors.
//
// Host keys are accepted as offered: resource hosts are enrolled in
// the calendar by an operator, and the tool historically relied on
// the invoking account's ssh configuration rather than its own
// known-hosts handling.
type SSHExecutor struct {
	host   string
	user   string
	port   string
	signer ssh.Signer

	client    *ssh.Client
	clientErr error
}

// NewSSHExecutor returns an SSHExecutor for the given target. The
// connection is not established until the first operation.
func NewSSHExecutor(host, user, port string, signer ssh.Signer) *SSHExecutor {
	if port == "" {
		port = "22"
	}
	return &SSHExecutor{host: host, user: user, port: port, signer: signer}
}

// SSHFactory returns a Factory producing SSHExecutors that all
// authenticate with the key in privateKeyPath.
func SSHFactory(privateKeyPath, port string) (Factory, error) {
	buf, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading SSH private key: %s", err)
	}
	signer, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		return nil, fmt.Errorf("parsing SSH private key %s: %s", privateKeyPath, err)
	}
	return func(host, user string) Executor {
		return NewSSHExecutor(host, user, port, signer)
	}, nil
}

// Run implements Executor.
func (exr *SSHExecutor) Run(cmd string, stdin io.Reader) ([]byte, []byte, error) {
	session, err := exr.newSession()
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()
	var stdout, stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(cmd)
	return stdout.Bytes(), stderr.Bytes(), err
}

// Start implements Executor. The command is wrapped in a nohup'd
// shell so it survives the session teardown; the wrapper itself
// exits immediately.
func (exr *SSHExecutor) Start(cmd string) error {
	_, _, err := exr.Run("nohup sh -c "+shellQuote(cmd)+" </dev/null >/dev/null 2>&1 &", nil)
	return err
}

// Upload implements Executor by streaming a tar of localDir into an
// extraction command on the target.
func (exr *SSHExecutor) Upload(localDir, remoteDir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, localDir))
	}()
	_, stderr, err := exr.Run("mkdir -p "+shellQuote(remoteDir)+" && tar -C "+shellQuote(remoteDir)+" -xf -", pr)
	pr.Close()
	if err != nil {
		return fmt.Errorf("copying %s to %s:%s: %s (%q)", localDir, exr.host, remoteDir, err, bytes.TrimSpace(stderr))
	}
	return nil
}

// Download implements Executor.
func (exr *SSHExecutor) Download(remotePath, localPath string) error {
	stdout, stderr, err := exr.Run("cat "+shellQuote(remotePath), nil)
	if err != nil {
		return fmt.Errorf("copying %s:%s: %s (%q)", exr.host, remotePath, err, bytes.TrimSpace(stderr))
	}
	return os.WriteFile(localPath, stdout, 0644)
}

// Close implements Executor.
func (exr *SSHExecutor) Close() {
	if exr.client != nil {
		exr.client.Close()
		exr.client, exr.clientErr = nil, errors.New("closed")
	}
}

// Create a new SSH session. If session setup fails or the SSH client
// hasn't been setup yet, set up a new SSH client and try again.
func (exr *SSHExecutor) newSession() (*ssh.Session, error) {
	if exr.client != nil {
		session, err := exr.client.NewSession()
		if err == nil {
			return session, nil
		}
		exr.client.Close()
		exr.client = nil
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(exr.host, exr.port), &ssh.ClientConfig{
		User: exr.user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(exr.signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh %s@%s: %s", exr.user, exr.host, err)
	}
	exr.client = client
	return client.NewSession()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// writeTar writes a tar archive of dir's contents (relative paths)
// to w.
func writeTar(w io.Writer, dir string) error {
	tw := tar.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err = tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}
