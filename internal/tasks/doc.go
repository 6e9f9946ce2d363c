// Package tasks runs publish jobs through a single in-process worker.
//
// # Queue
//
// [Queue.Enqueue] records a queued [models.JobStatus] and appends the job to a FIFO. When no
// worker is active one is started; it drains the FIFO one job at a time and exits when it is
// empty. Each job moves through
//
//	queued -> processing -> uploading -> complete | failed
//
// Assembly, publisher lookup, upload and post errors fail only that job with the message
// "an error occurred: <cause>". A recovered panic is treated the same way and the worker
// moves on to the next job.
//
// # Cleanup
//
// After a terminal state the session directory and rendered video are removed once
// CleanupDelay has elapsed, and the status is dropped after StatusTTL. Both timers go through
// an injectable [AfterFunc].
//
// # Progress Reporting
//
// Every transition is also sent as a [ProgressUpdate] on an optional channel. Sends use
// select with default so a slow reader never blocks the worker.
package tasks
