// Package audithook records job lifecycle events as an audit trail.
//
// Every queued, started and finished job produces an [AuditEvent] handed
// to a [Recorder]. Finished jobs are split by terminal status so a trail
// can be filtered down to failures:
//
//	audithook.New(audithook.LogRecorder(logger),
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobErrored,
//	    ),
//	)
//
// Recorder errors are logged and never fail the job.
package audithook
