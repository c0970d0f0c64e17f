// Package dispatch runs orchestrated queries asynchronously. It owns the
// query run lifecycle (pending→running→terminal), the root cancellation
// token of each in-flight run, and the dual-write of branch results to the
// store and to the result broker for live streaming.
package dispatch
