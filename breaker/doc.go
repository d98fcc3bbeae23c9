/*
Package breaker tracks per-proxy health with a circuit breaker state machine.

# Overview

Every proxy gets its own three-state breaker (Closed, Open, Half-Open),
created lazily on the first reported outcome. Open proxies are excluded from
selection by every rotation strategy, which is how repeated failures drain
traffic away from a dying proxy without any background process.

# States

  - Closed: healthy, failures counted within a sliding window
  - Open: excluded from selection until the cooldown elapses
  - Half-Open: probing; closes after N consecutive successes, reopens on any failure

The open to half-open transition is lazy: it happens as a read side effect
of IsOpen/State once the cooldown has elapsed, so no timer goroutine exists.

# Concurrency

Each proxy's state is guarded by its own mutex. Outcome reports for
different proxies never contend.
*/
package breaker
