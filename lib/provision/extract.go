// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package provision

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// The provisioning tool's log output is semi-structured text with no
// schema guarantee, and its format changed between protocol
// versions. Each field of interest therefore has an ordered list of
// named extraction strategies, tried in sequence; the strategy that
// matched is recorded in the log so operators can tell which format
// a resource host is emitting.

// An extraction is one way a field may appear in the log.
type extraction struct {
	// strategy name, for observability
	name string
	re   *regexp.Regexp
	// for list-valued fields: how to split the matched text
	split func(string) []string
}

// A fieldExtractor extracts one named field from log text.
type fieldExtractor struct {
	field      string
	strategies []extraction
}

var (
	fqdnExtractor = fieldExtractor{"fqdn", []extraction{
		{name: "fqdn-marker", re: regexp.MustCompile(`fqdn=(\S+)`)},
		{name: "public-ip-announcement", re: regexp.MustCompile(`Found available public IP [\d.]+ -> (\S+)`)},
	}}
	numCPUsExtractor = fieldExtractor{"numcpus", []extraction{
		{name: "numcpus-marker", re: regexp.MustCompile(`numcpus=(.+)`)},
		{name: "requesting-cpus", re: regexp.MustCompile(`Requesting (\d+) CPUs`)},
	}}
	cnodesExtractor = fieldExtractor{"cnodes", []extraction{
		{name: "cnodes-marker", re: regexp.MustCompile(`cnodes='?([^']+)`),
			split: func(s string) []string { return strings.Split(strings.TrimSpace(s), "\n") }},
		{name: "allocated-cluster-announcement", re: regexp.MustCompile(`Allocated cluster \S+ with compute nodes: (.+)`),
			split: func(s string) []string { return strings.Split(strings.TrimSpace(s), ", ") }},
	}}
	clusterNameExtractor = fieldExtractor{"cluster", []extraction{
		{name: "allocated-cluster", re: regexp.MustCompile(`Allocated cluster (\S+)`)},
	}}
)

// extract returns the first strategy's match in text. ok is false if
// no strategy matched, which callers treat as "not available yet",
// not as an error.
func (fx fieldExtractor) extract(logger logrus.FieldLogger, text string) (value string, ok bool) {
	for _, strategy := range fx.strategies {
		m := strategy.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		logger.WithFields(logrus.Fields{
			"Field":    fx.field,
			"Strategy": strategy.name,
		}).Debug("extracted field from provisioning log")
		return m[1], true
	}
	return "", false
}

// extractList is extract for list-valued fields, using the matching
// strategy's splitter.
func (fx fieldExtractor) extractList(logger logrus.FieldLogger, text string) (values []string, ok bool) {
	for _, strategy := range fx.strategies {
		m := strategy.re.FindStringSubmatch(text)
		if m == nil || strings.TrimSpace(m[1]) == "" {
			continue
		}
		logger.WithFields(logrus.Fields{
			"Field":    fx.field,
			"Strategy": strategy.name,
		}).Debug("extracted field from provisioning log")
		return strategy.split(m[1]), true
	}
	return nil, false
}
