// Package hodor drives the Hodor gateway's meta-tools: hodor-find to
// search the tool catalog, hodor-schema to fetch a tool's input schema
// and hodor-exec to invoke it.
//
// [Gateway] exposes each call individually. [Run] strings them together
// into the discover-then-execute workflow, using a [SelectionPolicy] to
// choose a tool and an [ArgumentPolicy] to fill in arguments when the
// caller leaves them out. Both policies are plain functions so callers
// can replace the defaults.
package hodor
