// Package search provides the concurrent query orchestration engine: it fans
// a search term out to a set of logical branches, races the replicas of each
// branch against one another, aggregates the first success per branch under a
// global deadline, and cooperatively cancels all outstanding work when the
// deadline fires or a race is decided.
package search
