/*
Package selector picks the next proxy from a candidate pool under one of
ten interchangeable rotation strategies.

# Overview

The selector composes the circuit breaker tracker, the sticky session table
and an external usage source. The caller pre-filters the pool to the
config's rotation group and to enabled proxies; the selector then excludes
every proxy whose circuit is open, regardless of strategy. Health exclusion
is cross-cutting, not a job of the failure-aware strategy alone.

# Strategies

round-robin, random, weighted, least-used, fastest, failure-aware are leaf
strategies. sticky-session, geographic, time-based and custom are compound:
each resolves to a leaf sub-strategy (weighted by default) once its own
constraint is applied. Compound strategies never nest.

Weighted draws use gonum's cumulative-weight sampler; a proxy with weight
zero is never drawn, and an all-zero pool degrades to a uniform pick.

# Rotation tracking

The selector remembers the previously returned proxy per target group. When
a non-sticky selection lands on a different proxy, the registered rotation
callback fires with a reason (scheduled, cooldown, failure, rule_triggered,
ttl_expired, startup). Selection errors never mutate this state.
*/
package selector
