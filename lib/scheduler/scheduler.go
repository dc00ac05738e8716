// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package scheduler drives reservations through their lifecycle:
// provision when a reservation's start time arrives, poll until the
// cluster is reachable, tear down when the window expires.
//
// One RunPass call is one poll cycle. The scheduler keeps no state
// of its own between cycles: a reservation's authoritative status
// lives in the store, and everything else is reconstructed from the
// descriptor tree on disk, so a cycle may safely observe (and
// resume) whatever a previous cycle — even a crashed one — left
// behind.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pragmagrid/cloudscheduler/lib/booked"
	"github.com/pragmagrid/cloudscheduler/lib/config"
	"github.com/pragmagrid/cloudscheduler/lib/ctxlog"
	"github.com/pragmagrid/cloudscheduler/lib/dag"
	"github.com/pragmagrid/cloudscheduler/lib/provision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Store timestamps look like "2016-04-08T16:30:00-0700"; only the
// first 19 characters are significant here, as in the store's own
// tooling.
const (
	isoFormat = "2006-01-02T15:04:05"
	isoLength = 19
)

// A Scheduler runs poll cycles. All fields must be set before the
// first RunPass.
type Scheduler struct {
	Client    *booked.Client
	Config    *config.Config
	Generator *dag.Generator
	Launcher  *provision.Launcher
	Detector  *provision.Detector
	Teardown  *provision.Teardown
	Registry  *prometheus.Registry

	// test hook; defaults to time.Now
	Now func() time.Time

	setupOnce     sync.Once
	statusByID    map[string]Status
	statusIDs     map[Status]string
	mReservations prometheus.Counter
	mTransitions  *prometheus.CounterVec
	mUpdateFails  prometheus.Counter
}

func (sched *Scheduler) setup() {
	sched.statusByID = map[string]Status{
		sched.Config.Status.Created:  StatusCreated,
		sched.Config.Status.Starting: StatusStarting,
		sched.Config.Status.Running:  StatusRunning,
		sched.Config.Status.Stopping: StatusStopping,
	}
	sched.statusIDs = map[Status]string{
		StatusCreated:  sched.Config.Status.Created,
		StatusStarting: sched.Config.Status.Starting,
		StatusRunning:  sched.Config.Status.Running,
		StatusStopping: sched.Config.Status.Stopping,
	}
	sched.mReservations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudscheduler",
		Name:      "reservations_seen_total",
		Help:      "Number of unique reservations examined by poll cycles.",
	})
	sched.mTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudscheduler",
		Name:      "status_transitions_total",
		Help:      "Number of reservation status updates accepted by the store.",
	}, []string{"to"})
	sched.mUpdateFails = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudscheduler",
		Name:      "status_update_failures_total",
		Help:      "Number of reservation status updates rejected by the store.",
	})
	if sched.Registry != nil {
		sched.Registry.MustRegister(sched.mReservations, sched.mTransitions, sched.mUpdateFails)
	}
}

// RunPass performs one poll cycle: authenticate, list reservations,
// and dispatch each unique reservation according to its status and
// remaining time.
//
// Operational failures (rejected status update, failed teardown) are
// logged and leave the reservation as last recorded, to be retried
// by the next cycle. Store errors and configuration errors abort the
// pass.
func (sched *Scheduler) RunPass(ctx context.Context) error {
	sched.setupOnce.Do(sched.setup)
	logger := ctxlog.FromContext(ctx)
	err := sched.Client.Authenticate(ctx)
	if err != nil {
		return err
	}
	logger.Debug("reading current and future reservations")
	reservations, err := sched.Client.ListReservations(ctx)
	if err != nil {
		return err
	}
	for _, summary := range reservations {
		sched.mReservations.Inc()
		err = sched.process(ctx, summary.ReferenceNumber)
		if err != nil {
			return fmt.Errorf("reservation %s: %s", summary.ReferenceNumber, err)
		}
	}
	return nil
}

func (sched *Scheduler) process(ctx context.Context, ref string) error {
	logger := ctxlog.FromContext(ctx).WithField("Reservation", ref)
	ctx = ctxlog.Context(ctx, logger)
	res, err := sched.Client.GetReservation(ctx, ref)
	if err != nil {
		return err
	}
	status := sched.statusByID[res.StatusID]
	startTime, err := parseISOTime(res.StartDateTime)
	if err != nil {
		return fmt.Errorf("bad start time: %s", err)
	}
	endTime, err := parseISOTime(res.EndDateTime)
	if err != nil {
		return fmt.Errorf("bad end time: %s", err)
	}
	now := time.Now()
	if sched.Now != nil {
		now = sched.Now()
	}
	logger.WithFields(logrus.Fields{
		"Status": status,
		"Start":  res.StartDateTime,
		"End":    res.EndDateTime,
	}).Debug("examining reservation")

	threshold := time.Duration(sched.Config.Stopping.ReservationSecsLeft) * time.Second
	switch {
	case status == StatusCreated && now.Before(startTime):
		logger.WithField("In", startTime.Sub(now)).Debug("reservation starts later")
	case status == StatusCreated:
		return sched.start(ctx, res, now)
	case status == StatusStarting:
		return sched.checkStarted(ctx, res, now)
	case status == StatusRunning && endTime.Sub(now) > threshold:
		logger.WithField("In", endTime.Sub(now)-threshold).Debug("reservation scheduled to be shut down")
	case status == StatusRunning:
		return sched.stop(ctx, res, now)
	default:
		logger.WithField("StatusID", res.StatusID).Debug("reservation in a state not managed by this scheduler")
	}
	return nil
}

// start provisions a Created reservation whose start time has
// arrived: generate the descriptor tree, launch the provisioning
// tool, and advance to Starting.
//
// If the status update fails, the next cycle finds the reservation
// still Created and redoes the generate+launch — the descriptor tree
// is regenerated identically and the provisioning tool tolerates a
// re-issued boot.
func (sched *Scheduler) start(ctx context.Context, res *booked.Reservation, now time.Time) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("starting reservation")
	dagDir, err := sched.Generator.Generate(ctx, res)
	if err != nil {
		return err
	}
	err = sched.Launcher.Launch(ctx, dagDir, res.ReferenceNumber)
	if err != nil {
		return err
	}
	desc := res.Description + "\n\n" + startingNotice(now)
	sched.update(ctx, res, StatusStarting, desc)
	return nil
}

// checkStarted polls a Starting reservation's readiness and advances
// it to Running once every resource's cluster is up.
func (sched *Scheduler) checkStarted(ctx context.Context, res *booked.Reservation, now time.Time) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("checking status of reservation")
	readiness, err := sched.Detector.Check(ctx, sched.Generator.Dir(res.ReferenceNumber), res.ReferenceNumber)
	if err != nil {
		return err
	}
	if !readiness.Ready {
		return nil
	}
	logger.Info("reservation is running")
	desc := res.Description + "\n\n" + startedNotice(now, readiness.Summary, readiness.FrontendFQDN)
	sched.update(ctx, res, StatusRunning, desc)
	return nil
}

// stop tears down a Running reservation that is within the shutdown
// threshold of its end time. The reservation is marked Stopping
// before teardown begins; it advances to Created (completing the
// cycle) only if every resource's shutdown and clean succeed, so a
// failed teardown is retried wholesale on the next cycle.
func (sched *Scheduler) stop(ctx context.Context, res *booked.Reservation, now time.Time) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("reservation has expired; shutting down cluster")
	desc := res.Description + "\n\n" + stoppingNotice(now)
	sched.update(ctx, res, StatusStopping, desc)
	err := sched.Teardown.Stop(ctx, sched.Generator.Dir(res.ReferenceNumber), res.ReferenceNumber)
	if err != nil {
		logger.WithError(err).Error("teardown failed; will retry next cycle")
		return nil
	}
	desc += "\n\n" + stoppedNotice(now)
	sched.update(ctx, res, StatusCreated, desc)
	return nil
}

// update posts a status/description update to the store. A rejected
// update is logged and counted but not returned: state is left as
// last recorded, and the action leading here is redone by the next
// cycle.
func (sched *Scheduler) update(ctx context.Context, res *booked.Reservation, status Status, description string) {
	logger := ctxlog.FromContext(ctx)
	err := sched.Client.UpdateStatus(ctx, res, sched.statusIDs[status], description)
	if err != nil {
		sched.mUpdateFails.Inc()
		logger.WithField("To", status).WithError(err).Error("status update failed")
		return
	}
	sched.mTransitions.WithLabelValues(status.String()).Inc()
	logger.WithField("To", status).Debug("status updated")
}

func parseISOTime(s string) (time.Time, error) {
	if len(s) < isoLength {
		return time.Time{}, fmt.Errorf("timestamp %q too short", s)
	}
	return time.ParseInLocation(isoFormat, s[:isoLength], time.Local)
}
