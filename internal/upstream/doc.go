// Package upstream manages the named replica groups a query fans out to.
// Each group is one logical branch backed by an ordered set of replicas; the
// registry resolves group names into search branches at query time. The HTTP
// replica adapter turns a base URL into the opaque collaborator call the
// engine expects.
package upstream
