/*
Package ratelimit enforces per-destination and global request-rate budgets.

# Overview

Each destination class (a search engine, a crawl target family) gets a token
bucket with its own window, minimum inter-request delay and concurrency cap.
One implicit global bucket aggregates across all classes. A request is
admitted only when both its class bucket and the global bucket agree.

Token accounting is backed by golang.org/x/time/rate, driven with explicit
timestamps: tokens are recomputed from the wall-clock delta at check time and
no background timer runs. Negative clock deltas (clock skew) are absorbed by
the limiter. The concurrency gate and the minimum-delay stamp wrap around the
rate.Limiter, which only models the token budget.

# Admission

Check evaluates in a fixed precedence order: class concurrency, global
concurrency, minimum delay, class tokens, global tokens. An allowed check
consumes one token from both buckets whether or not the caller proceeds;
checking models the cost of a request attempt, not just in-flight work.

# Lifecycle

The limiter is an explicitly constructed, dependency-injected instance. One
process can run several isolated limiters (one per browser profile). Reset
restores all buckets to full and exists for reinitialization and tests, not
for the traffic path.
*/
package ratelimit
