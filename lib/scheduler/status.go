// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

// Status is a reservation's lifecycle state as recorded in the
// store. The progression is cyclic: Created → Starting → Running →
// Stopping → Created, so a reservation whose window is still open
// can be provisioned again after teardown.
type Status int

const (
	// StatusUnknown covers any stored status id outside the
	// configured mapping; such reservations are not managed by
	// this scheduler and are left untouched.
	StatusUnknown Status = iota
	StatusCreated
	StatusStarting
	StatusRunning
	StatusStopping
)

var statusString = map[Status]string{
	StatusUnknown:  "unknown",
	StatusCreated:  "created",
	StatusStarting: "starting",
	StatusRunning:  "running",
	StatusStopping: "stopping",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return statusString[s]
}

// MarshalText implements encoding.TextMarshaler so a JSON encoding
// of map[Status]anything uses the status's string representation.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(statusString[s]), nil
}
