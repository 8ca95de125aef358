// Package concepts holds the entity families managed by the generic
// versioned-aggregate lifecycle: one content type plus its Adapter each.
package concepts
