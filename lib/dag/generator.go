// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package dag generates the per-reservation job descriptor tree
// consumed by the remote execution system.
//
// The tree for reservation 123 looks like:
//
//	dag-123/
//	  dag.sub        top level descriptor, one JOB line per resource
//	  public_key     user's SSH public key + this host's key
//	  vc45/
//	    vc45.sub     provisioning job file for resource 45
//	    vc45.vmconf  pragma_boot command line arguments
//
// The tree is the durable record of what was requested: after
// generation, the launcher, readiness detector and teardown executor
// work from the files materialized here instead of re-fetching
// reservation detail from the store.
package dag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/pragmagrid/cloudscheduler/lib/booked"
	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
)

// Attribute labels expected on reservations, users, and resources in
// the store.
const (
	AttrMemory      = "Memory (GB)"
	AttrCPUs        = "CPUs"
	AttrVCName      = "VC Name"
	AttrSSHKey      = "SSH public key"
	AttrHostname    = "Site hostname"
	AttrBootVersion = "Pragma_boot version"
	AttrUsername    = "Username"
	AttrTmpDir      = "Temporary directory"
)

var nodeTemplate = template.Must(template.New("sub").Parse(`universe                     = vm
executable                   = rocks_vc_{{.ID}}
requirements                 = Machine =="{{.Host}}"
log                          = vc{{.ID}}.log.txt
vm_type                      = rocks
vm_memory                    = {{.Memory}}
rocks_job_dir                = {{.JobDir}}
JobLeaseDuration             = 7200
RequestMemory = {{.Memory}}
pragma_boot_version          = {{.Version}}
username                     = {{.Username}}
var_run                      = {{.VarRun}}
rocks_should_transfer_files = Yes
RunAsOwner=True
queue
`))

var vmconfTemplate = template.Must(template.New("vmconf").Parse(`--executable      = pragma_boot
--key             = {{.SSHKeyPath}}
--num_cpus        = {{.CPUs}}
--vcname          = {{.VCName}}
--logfile         = {{.JobDir}}/pragma_boot.log
`))

// A Generator materializes descriptor trees under RootDir.
type Generator struct {
	Client        *booked.Client
	RootDir       string
	PublicKeyPath string
}

// Generate writes the descriptor tree for the given reservation and
// returns its path. It is deterministic for a given
// reservation/resource/user attribute snapshot and overwrites any
// previous tree in place.
//
// A missing user key attribute or unreadable local key file is a
// configuration error, not a transient one, and propagates.
func (gen *Generator) Generate(ctx context.Context, res *booked.Reservation) (string, error) {
	logger := ctxlog.FromContext(ctx).WithField("Reservation", res.ReferenceNumber)
	reservAttrs := res.Attributes()

	user, err := gen.Client.GetUser(ctx, res.Owner.UserID)
	if err != nil {
		return "", err
	}
	userKey, ok := user.Attributes()[AttrSSHKey]
	if !ok || userKey == "" {
		return "", fmt.Errorf("user %s has no %q attribute", res.Owner.UserID, AttrSSHKey)
	}
	localKey, err := os.ReadFile(gen.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading local public key: %s", err)
	}

	dagDir, err := filepath.Abs(filepath.Join(gen.RootDir, "dag-"+res.ReferenceNumber))
	if err != nil {
		return "", err
	}
	logger.WithField("DAGDir", dagDir).Debug("creating descriptor tree")
	err = os.MkdirAll(dagDir, 0755)
	if err != nil {
		return "", err
	}
	sshKeyPath := filepath.Join(dagDir, "public_key")
	err = os.WriteFile(sshKeyPath, []byte(userKey+"\n"+string(localKey)+"\n"), 0644)
	if err != nil {
		return "", err
	}

	dagSub, err := os.Create(filepath.Join(dagDir, "dag.sub"))
	if err != nil {
		return "", err
	}
	defer dagSub.Close()

	for _, rscRef := range res.Resources {
		rsc, err := gen.Client.GetResource(ctx, rscRef.ID)
		if err != nil {
			return "", err
		}
		rscAttrs := rsc.Attributes()
		for _, label := range []string{AttrHostname, AttrBootVersion, AttrUsername, AttrTmpDir} {
			if rscAttrs[label] == "" {
				return "", fmt.Errorf("resource %s has no %q attribute", rscRef.ID, label)
			}
		}
		nodeDir := filepath.Join(dagDir, "vc"+rscRef.ID)
		err = os.MkdirAll(nodeDir, 0755)
		if err != nil {
			return "", err
		}
		subPath := filepath.Join(nodeDir, "vc"+rscRef.ID+".sub")
		logger.WithField("Path", subPath).Debug("writing job file")
		err = writeTemplate(subPath, nodeTemplate, map[string]string{
			"ID":       rscRef.ID,
			"Host":     rscAttrs[AttrHostname],
			"Memory":   reservAttrs[AttrMemory],
			"JobDir":   dagDir,
			"Version":  rscAttrs[AttrBootVersion],
			"Username": rscAttrs[AttrUsername],
			"VarRun":   rscAttrs[AttrTmpDir],
		})
		if err != nil {
			return "", err
		}
		_, err = fmt.Fprintf(dagSub, " JOB VC%s  %s\n", rscRef.ID, subPath)
		if err != nil {
			return "", err
		}
		err = writeTemplate(filepath.Join(nodeDir, "vc"+rscRef.ID+".vmconf"), vmconfTemplate, map[string]string{
			"SSHKeyPath": sshKeyPath,
			"CPUs":       reservAttrs[AttrCPUs],
			"VCName":     reservAttrs[AttrVCName],
			"JobDir":     dagDir,
		})
		if err != nil {
			return "", err
		}
	}
	return dagDir, dagSub.Close()
}

// Dir returns the path of the (possibly not yet generated)
// descriptor tree for the given reference number.
func (gen *Generator) Dir(ref string) string {
	dagDir, err := filepath.Abs(filepath.Join(gen.RootDir, "dag-"+ref))
	if err != nil {
		return filepath.Join(gen.RootDir, "dag-"+ref)
	}
	return dagDir
}

func writeTemplate(path string, tmpl *template.Template, data map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = tmpl.Execute(f, data)
	if err != nil {
		return err
	}
	return f.Close()
}
