// Package activity fans out state lifecycle events (writes, async loads,
// evictions) to pluggable hooks. Containers emit through an Emitter only when
// hooks are configured, so the package costs nothing by default.
package activity
