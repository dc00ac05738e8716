// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"fmt"
	"time"
)

// Lifecycle notices appended to a reservation's description field,
// which is its owner's only view of the scheduler's progress.

const noticeTimeFormat = "2006-01-02 15:04:05"

func startingNotice(now time.Time) string {
	return fmt.Sprintf(`----- PRAGMA Cloud Scheduler Update @ %s -----

Your resource reservation is being started.  You will receive an email when
the resources are ready for you to login.
`, now.Format(noticeTimeFormat))
}

func startedNotice(now time.Time, resourceInfo, fqdn string) string {
	return fmt.Sprintf(`----- PRAGMA Cloud Scheduler Update @ %s -----

Your resource reservation has been activated: %s

To access resources, login to the frontend.  E.g.,

> ssh root@%s
`, now.Format(noticeTimeFormat), resourceInfo, fqdn)
}

func stoppingNotice(now time.Time) string {
	return fmt.Sprintf(`----- PRAGMA Cloud Scheduler Update @ %s -----

Your resource reservation is being shutdown.
`, now.Format(noticeTimeFormat))
}

func stoppedNotice(now time.Time) string {
	return fmt.Sprintf(`----- PRAGMA Cloud Scheduler Update @ %s -----

Your resource reservation has been shutdown
`, now.Format(noticeTimeFormat))
}
