// Package course defines the Course and Update records, the Update status
// state machine, and the Store contract the pipeline consumes.
package course
