// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Filenames materialized in each resource subdirectory.
const (
	hostnameFile       = "hostname"
	clusterInfoFile    = "cluster_info"
	bootLogFile        = "pragma_boot.log"
	listClusterOutFile = "pragma_list_cluster"
	shutdownOutFile    = "pragma_shutdown"
	cleanOutFile       = "pragma_clean"
)

var (
	reJobLine     = regexp.MustCompile(`(?m)^.*\s(\S+)$`)
	reSubHost     = regexp.MustCompile(`Machine =="([^"]+)"`)
	reSubUsername = regexp.MustCompile(`(?m)^username\s*=\s*(\S+)`)
	reSubVersion  = regexp.MustCompile(`(?m)^pragma_boot_version\s*=\s*(\S+)`)
	reSubVarRun   = regexp.MustCompile(`(?m)^var_run\s*=\s*(\S+)`)
)

// A resourceDir is the launcher/detector/teardown view of one
// resource subdirectory of a descriptor tree. It is reconstructed
// from the materialized files on every poll cycle rather than from
// the store, so cycles are re-entrant.
type resourceDir struct {
	Dir      string // e.g. <dagDir>/vc45
	SubFile  string // e.g. <dagDir>/vc45/vc45.sub
	Host     string
	Username string
	Protocol Protocol
	VarRun   string // remote working directory root
}

// vmconfFile returns the path of the provisioning-parameter file.
func (rd *resourceDir) vmconfFile() string {
	return strings.TrimSuffix(rd.SubFile, ".sub") + ".vmconf"
}

// remoteDAGDir returns the descriptor tree location on the resource
// host.
func (rd *resourceDir) remoteDAGDir(ref string) string {
	return path.Join(rd.VarRun, "dag-"+ref)
}

// loadResourceDirs reads dag.sub and the per-resource job files it
// names. An unparseable job file or unknown protocol version is a
// configuration error.
func loadResourceDirs(dagDir string) ([]resourceDir, error) {
	buf, err := os.ReadFile(filepath.Join(dagDir, "dag.sub"))
	if err != nil {
		return nil, err
	}
	var dirs []resourceDir
	for _, line := range strings.Split(string(buf), "\n") {
		m := reJobLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		subFile := m[1]
		sub, err := os.ReadFile(subFile)
		if err != nil {
			return nil, err
		}
		rd := resourceDir{
			Dir:     filepath.Dir(subFile),
			SubFile: subFile,
		}
		for _, field := range []struct {
			re   *regexp.Regexp
			dst  *string
			name string
		}{
			{reSubHost, &rd.Host, "host"},
			{reSubUsername, &rd.Username, "username"},
			{reSubVarRun, &rd.VarRun, "var_run"},
		} {
			m := field.re.FindSubmatch(sub)
			if m == nil {
				return nil, fmt.Errorf("%s: no %s field", subFile, field.name)
			}
			*field.dst = string(m[1])
		}
		mv := reSubVersion.FindSubmatch(sub)
		if mv == nil {
			return nil, fmt.Errorf("%s: no pragma_boot_version field", subFile)
		}
		rd.Protocol, err = ParseProtocol(string(mv[1]))
		if err != nil {
			return nil, fmt.Errorf("%s: %s", subFile, err)
		}
		// The launcher records the resolved host in a marker
		// file; later cycles use that instead of re-resolving.
		if marker, err := os.ReadFile(filepath.Join(rd.Dir, hostnameFile)); err == nil && len(marker) > 0 {
			rd.Host = strings.TrimSpace(string(marker))
		}
		dirs = append(dirs, rd)
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%s: no JOB entries in dag.sub", dagDir)
	}
	return dirs, nil
}
