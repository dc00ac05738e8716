// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/remote"
)

var (
	reVMConfV1 = regexp.MustCompile(`(?m)^(--\S+)\s+=\s+(.*)$`)
	reVMConfV2 = regexp.MustCompile(`(?m)^--(\S+)\s+=\s+(\S+)`)
)

// A Launcher stages descriptor trees onto resource hosts and starts
// the provisioning tool there.
type Launcher struct {
	NewExecutor remote.Factory
	// How long to wait after the detached launch before
	// returning, so the tool has started writing its log.
	SettleDelay time.Duration
	// This host's name; resources on it are launched in place
	// without staging. Defaults to remote.LocalHostname().
	LocalHost string

	// test hook
	sleep func(time.Duration)
}

// Launch starts provisioning every resource of the descriptor tree
// rooted at dagDir.
//
// The invocation is detached: the provisioning tool must outlive
// this process, so Launch does not wait for completion and per-host
// staging or invocation failures are only logged — they surface
// later, through the readiness detector never observing readiness.
// The only failures reported here are configuration errors found in
// the tree itself (including an unknown protocol version).
func (lnch *Launcher) Launch(ctx context.Context, dagDir, ref string) error {
	logger := ctxlog.FromContext(ctx).WithField("Reservation", ref)
	dirs, err := loadResourceDirs(dagDir)
	if err != nil {
		return err
	}
	localHost := lnch.LocalHost
	if localHost == "" {
		localHost = remote.LocalHostname()
	}
	for _, rd := range dirs {
		rd := rd
		logger := logger.WithField("Host", rd.Host)
		err := os.WriteFile(filepath.Join(rd.Dir, hostnameFile), []byte(rd.Host), 0644)
		if err != nil {
			return err
		}
		cmdline, err := lnch.commandLine(&rd, dagDir, ref)
		if err != nil {
			return err
		}
		exr := lnch.NewExecutor(rd.Host, rd.Username)
		if rd.Host != localHost {
			remoteDir := rd.remoteDAGDir(ref)
			logger.WithField("RemoteDir", remoteDir).Debug("staging descriptor tree")
			err = exr.Upload(dagDir, remoteDir)
			if err != nil {
				logger.WithError(err).Warn("staging descriptor tree failed")
				exr.Close()
				continue
			}
		}
		logger.WithField("Command", cmdline).Debug("starting provisioning tool")
		err = exr.Start(cmdline)
		if err != nil {
			logger.WithError(err).Warn("starting provisioning tool failed")
		}
		exr.Close()
	}
	sleep := lnch.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger.WithField("SettleDelay", lnch.SettleDelay).Debug("waiting for provisioning tool to settle")
	sleep(lnch.SettleDelay)
	return nil
}

// commandLine builds the provisioning tool invocation for one
// resource, per its protocol dialect, with descriptor tree paths
// rewritten to their locations on the resource host.
func (lnch *Launcher) commandLine(rd *resourceDir, dagDir, ref string) (string, error) {
	buf, err := os.ReadFile(rd.vmconfFile())
	if err != nil {
		return "", err
	}
	remoteDir := rd.remoteDAGDir(ref)
	switch rd.Protocol {
	case ProtocolV1:
		var args strings.Builder
		for _, m := range reVMConfV1.FindAllStringSubmatch(string(buf), -1) {
			flag, value := m[1], strings.TrimSpace(m[2])
			if flag == "--executable" || flag == "--logfile" {
				continue
			}
			args.WriteString(fmt.Sprintf(" %s=%s", flag, strings.ReplaceAll(value, dagDir, remoteDir)))
		}
		return fmt.Sprintf("cd %s; %s%s", remoteDir, pragmaBootCommand, args.String()), nil
	case ProtocolV2:
		conf := map[string]string{}
		for _, m := range reVMConfV2.FindAllStringSubmatch(string(buf), -1) {
			conf[m[1]] = m[2]
		}
		for _, key := range []string{"vcname", "num_cpus", "key", "logfile"} {
			if conf[key] == "" {
				return "", fmt.Errorf("%s: no %s entry", rd.vmconfFile(), key)
			}
		}
		key := strings.ReplaceAll(conf["key"], dagDir, remoteDir)
		logfile := strings.ReplaceAll(conf["logfile"], dagDir, remoteDir)
		return fmt.Sprintf("cd %s; %s boot %s %s key=%s loglevel=DEBUG logfile=%s",
			remoteDir, pragmaCommand, conf["vcname"], conf["num_cpus"], key, logfile), nil
	default:
		return "", fmt.Errorf("%s: unknown protocol %d", rd.SubFile, rd.Protocol)
	}
}
