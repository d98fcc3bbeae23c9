// Package rotation wires the selection, health, rate-limit, and affinity
// layers into one acquire/release cycle. The Coordinator hands out leases:
// the caller acquires a proxy, performs its request, and releases the lease
// with the observed outcome, which feeds the circuit breaker, the rate
// limiter, and the usage stats sink.
//
// Persistence lives behind injected providers; the coordinator itself never
// touches the network or disk. Every dependency is constructed explicitly,
// so several isolated coordinators can coexist in one process.
package rotation
