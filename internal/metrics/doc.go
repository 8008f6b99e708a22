// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by an MIT license that can be
// found in the LICENSE file.

/*
Package metrics implements spec §4.7's metrics collector: per-provider
rolling-window aggregation recomputed on read, plus a live Prometheus
export of the same ingress/egress request path.

# Overview

Collector registers Prometheus vectors through promauto, so there is no
manual Registry bookkeeping. Window holds, per provider:model, a ring of
RequestRecord pruned to a rolling W-minute duration; Aggregate recomputes
request count, success rate, avg/p50/p95 latency, avg TTFT (over records
that recorded one), avg throughput and avg cost/1M on every read.

# Core types

  - Collector: Prometheus exporter for HTTP ingress and LLM egress metrics.
  - Window: per-provider rolling window of RequestRecord plus the
    recomputed Aggregate.

# Scope

The teacher's original Collector also covered Agent, cache and database
metric groups; none of those domains exist in this gateway, so those three
groups were dropped rather than adapted (see DESIGN.md).
*/
package metrics
