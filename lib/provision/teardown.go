// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/remote"
)

// A Teardown shuts down and cleans up previously booted clusters.
type Teardown struct {
	NewExecutor remote.Factory
}

// Stop runs the provisioning tool's shutdown and clean subcommands
// for every resource of the descriptor tree rooted at dagDir,
// keeping each command's output in the resource directory for audit.
//
// Both subcommands must exit zero; the first failure aborts and is
// returned, so the caller leaves the reservation in Stopping and the
// whole teardown is retried on the next cycle. Teardown is never
// assumed to have partially succeeded.
func (td *Teardown) Stop(ctx context.Context, dagDir, ref string) error {
	logger := ctxlog.FromContext(ctx).WithField("Reservation", ref)
	dirs, err := loadResourceDirs(dagDir)
	if err != nil {
		return err
	}
	for _, rd := range dirs {
		rd := rd
		logger := logger.WithField("Host", rd.Host)
		var record clusterRecord
		if buf, err := os.ReadFile(filepath.Join(rd.Dir, clusterInfoFile)); err == nil {
			record = *parseClusterRecord(string(buf))
		}
		cluster := record.clusterName(logger, &rd)
		exr := td.NewExecutor(rd.Host, rd.Username)
		for _, sub := range []struct {
			verb    string
			outfile string
		}{
			{"shutdown", shutdownOutFile},
			{"clean", cleanOutFile},
		} {
			cmd := fmt.Sprintf("%s %s %s", pragmaCommand, sub.verb, cluster)
			logger.WithField("Command", cmd).Debugf("%s cluster %s", sub.verb, cluster)
			stdout, stderr, err := exr.Run(cmd, nil)
			if werr := os.WriteFile(filepath.Join(rd.Dir, sub.outfile), stdout, 0644); werr != nil {
				logger.WithError(werr).Warnf("writing %s output failed", sub.verb)
			}
			if err != nil {
				exr.Close()
				return fmt.Errorf("%s of cluster %s on %s failed: %s (%q)", sub.verb, cluster, rd.Host, err, stderr)
			}
			logger.Debugf("%s", stdout)
		}
		exr.Close()
	}
	return nil
}
