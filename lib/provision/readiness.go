// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/remote"
	"github.com/sirupsen/logrus"
)

// Readiness is the result of one detector pass over a reservation's
// resources.
type Readiness struct {
	// Ready is true only when every resource has a complete
	// cluster record and passed its liveness probe. Anything less
	// is pending: the next poll cycle re-checks.
	Ready bool
	// Summary describes each resource's cluster (frontend
	// address, compute node count), for the reservation's
	// user-visible description.
	Summary string
	// FrontendFQDN is the last resource's cluster address, used
	// in the "started" notice as the login host.
	FrontendFQDN string
}

// clusterRecord is the parsed content of a cluster_info cache file.
type clusterRecord struct {
	FQDN   string
	CNodes []string
}

// nodes returns the frontend's host label plus the compute nodes.
func (cr *clusterRecord) nodes() []string {
	return append([]string{strings.SplitN(cr.FQDN, ".", 2)[0]}, cr.CNodes...)
}

// A Detector decides whether a reservation's clusters have finished
// booting, by inspecting the provisioning tool's log output and
// probing the booted clusters.
type Detector struct {
	NewExecutor remote.Factory
	// Ping probes a host's liveness for ProtocolV1 resources.
	// Defaults to one "ping -c 1".
	Ping func(host string) bool
}

// Check inspects every resource of the descriptor tree rooted at
// dagDir and reports the reservation's overall readiness.
//
// Per resource the progression is monotonic: no info → address known
// → complete record cached in cluster_info. Once the cache file
// exists it is ground truth; the remote log is never fetched or
// re-parsed for that resource again. An incomplete log is not an
// error — the result is simply not Ready, and the next cycle
// retries.
func (det *Detector) Check(ctx context.Context, dagDir, ref string) (*Readiness, error) {
	logger := ctxlog.FromContext(ctx).WithField("Reservation", ref)
	dirs, err := loadResourceDirs(dagDir)
	if err != nil {
		return nil, err
	}
	var active, inactive []string
	pending := false
	result := &Readiness{}
	for _, rd := range dirs {
		rd := rd
		logger := logger.WithField("Host", rd.Host)
		record, err := det.clusterRecord(logger, &rd, ref)
		if err != nil {
			return nil, err
		}
		if record == nil {
			pending = true
			continue
		}
		result.FrontendFQDN = record.FQDN
		result.Summary += fmt.Sprintf("\n\nFrontend: %s\nNumber of compute nodes: %d", record.FQDN, len(record.nodes())-1)
		if det.probeLiveness(logger, &rd, record) {
			active = append(active, record.FQDN)
		} else {
			inactive = append(inactive, record.FQDN)
		}
	}
	logger.WithFields(logrus.Fields{
		"Active":   active,
		"Inactive": inactive,
	}).Info("cluster liveness")
	result.Ready = !pending && len(inactive) == 0
	return result, nil
}

// clusterRecord returns the resource's cached cluster record,
// deriving and caching it from the provisioning log if possible. A
// nil record with nil error means the information is not available
// yet.
func (det *Detector) clusterRecord(logger logrus.FieldLogger, rd *resourceDir, ref string) (*clusterRecord, error) {
	infoPath := filepath.Join(rd.Dir, clusterInfoFile)
	if buf, err := os.ReadFile(infoPath); err == nil {
		logger.WithField("Path", infoPath).Debug("reading cached cluster record")
		return parseClusterRecord(string(buf)), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	localLog := filepath.Join(rd.Dir, bootLogFile)
	exr := det.NewExecutor(rd.Host, rd.Username)
	err := exr.Download(path.Join(rd.remoteDAGDir(ref), bootLogFile), localLog)
	exr.Close()
	if err != nil {
		// Tool may not have started writing its log yet.
		logger.WithError(err).Debug("provisioning log not retrievable yet")
	}
	buf, err := os.ReadFile(localLog)
	if os.IsNotExist(err) {
		logger.Info("no provisioning log available yet")
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	text := string(buf)

	fqdn, ok := fqdnExtractor.extract(logger, text)
	if !ok {
		logger.Info("no FQDN info available yet")
		return nil, nil
	}
	record := &clusterRecord{FQDN: fqdn}
	cpuStr, ok := numCPUsExtractor.extract(logger, text)
	if !ok {
		logger.Info("no CPU count info available yet")
		return nil, nil
	}
	numCPUs, err := strconv.Atoi(strings.TrimSpace(cpuStr))
	if err != nil {
		logger.WithField("Value", cpuStr).Info("unparseable CPU count in provisioning log")
		return nil, nil
	}
	if numCPUs > 0 {
		cnodes, ok := cnodesExtractor.extractList(logger, text)
		if !ok {
			// Leave cluster_info unwritten so the next
			// cycle retries extraction instead of caching
			// an incomplete record.
			logger.Info("no compute nodes info available yet")
			return nil, nil
		}
		record.CNodes = cnodes
	}
	err = os.WriteFile(infoPath, []byte(fmt.Sprintf("fqdn=%s\ncnodes=%s", record.FQDN, strings.Join(record.CNodes, " "))), 0644)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// probeLiveness classifies a resource's cluster as active or
// inactive, by the version-appropriate means.
func (det *Detector) probeLiveness(logger logrus.FieldLogger, rd *resourceDir, record *clusterRecord) bool {
	switch rd.Protocol {
	case ProtocolV2:
		return det.probeListCluster(logger, rd, record)
	default:
		ping := det.Ping
		if ping == nil {
			ping = pingOnce
		}
		ok := ping(record.FQDN)
		logger.WithFields(logrus.Fields{
			"FQDN":   record.FQDN,
			"Active": ok,
		}).Debug("ping probe")
		return ok
	}
}

// probeListCluster runs the tool's cluster-list subcommand against
// the allocated cluster name and classifies by exit status. The
// output is kept locally for audit.
func (det *Detector) probeListCluster(logger logrus.FieldLogger, rd *resourceDir, record *clusterRecord) bool {
	cluster := record.clusterName(logger, rd)
	exr := det.NewExecutor(rd.Host, rd.Username)
	defer exr.Close()
	stdout, _, err := exr.Run(fmt.Sprintf("%s list cluster %s", pragmaCommand, cluster), nil)
	if werr := os.WriteFile(filepath.Join(rd.Dir, listClusterOutFile), stdout, 0644); werr != nil {
		logger.WithError(werr).Warn("writing cluster list output failed")
	}
	logger.WithFields(logrus.Fields{
		"Cluster": cluster,
		"Active":  err == nil,
	}).Info(strings.TrimSpace(string(stdout)))
	return err == nil
}

// clusterName returns the allocated cluster name from the locally
// cached provisioning log, falling back to the frontend's host
// label.
func (cr *clusterRecord) clusterName(logger logrus.FieldLogger, rd *resourceDir) string {
	if buf, err := os.ReadFile(filepath.Join(rd.Dir, bootLogFile)); err == nil {
		if name, ok := clusterNameExtractor.extract(logger, string(buf)); ok {
			return name
		}
	}
	return strings.SplitN(cr.FQDN, ".", 2)[0]
}

// parseClusterRecord reads a cluster_info cache file
// ("fqdn=<addr>\ncnodes=<space separated nodes>").
func parseClusterRecord(text string) *clusterRecord {
	record := &clusterRecord{}
	for _, line := range strings.Split(text, "\n") {
		if v, ok := strings.CutPrefix(line, "fqdn="); ok {
			record.FQDN = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "cnodes="); ok {
			record.CNodes = strings.Fields(v)
		}
	}
	return record
}

func pingOnce(host string) bool {
	return exec.Command("ping", "-c", "1", host).Run() == nil
}
