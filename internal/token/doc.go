// Package token implements the cancellation token tree used to scope
// orchestrated queries. A root token carries the query's absolute deadline;
// child tokens are derived per branch and per replica so that cancelling or
// expiring a parent cancels every descendant exactly once.
package token
