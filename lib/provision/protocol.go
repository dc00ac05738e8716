// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package provision launches the remote provisioning tool for a
// reservation's resources, detects when the provisioned clusters are
// ready, and tears them down when the reservation ends.
//
// All state needed here is read out of the descriptor tree generated
// by the dag package, plus artifacts materialized alongside it
// (hostname marker, provisioning tool log, cluster_info cache), so a
// poll cycle can resume from whatever point the previous cycle
// reached.
package provision

import "fmt"

// Locations of the provisioning tool on resource hosts.
const (
	pragmaBootCommand = "/opt/pragma_boot/bin/pragma_boot"
	pragmaCommand     = "/opt/python/bin/python /opt/pragma_boot/bin/pragma"
)

// Protocol identifies which command line dialect the resource's
// provisioning tool speaks.
type Protocol int

const (
	// ProtocolV1: pragma_boot invoked with concatenated
	// --flag=value pairs.
	ProtocolV1 Protocol = 1
	// ProtocolV2: "pragma boot" with positional arguments plus
	// key=/loglevel=/logfile= flags.
	ProtocolV2 Protocol = 2
)

var protocolString = map[Protocol]string{
	ProtocolV1: "1",
	ProtocolV2: "2",
}

// String implements fmt.Stringer.
func (p Protocol) String() string {
	return protocolString[p]
}

// ParseProtocol maps a resource's version attribute to a Protocol.
// Any unrecognized value is a configuration error.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "1":
		return ProtocolV1, nil
	case "2":
		return ProtocolV2, nil
	default:
		return 0, fmt.Errorf("unknown pragma_boot version %q", s)
	}
}
