// Package job defines the persisted job record, its status machine and the
// store interface.
//
// A [Job] records one run of a stage's commands:
//
//	pending → running → succeeded
//	pending → running → failed
//	pending → running → errored
//	pending → running → cancelled
//	pending → cancelled
//
// The engine changes a job only through [Store]: status transitions,
// output mirroring and the resolved commit/tag. Everything else about a job
// belongs to the application that created it.
package job
