// Package acquisition downloads, decrypts and stores one purchased title per
// job.
//
// A Job moves through Pending, Downloading, Transcoding, Uploading and
// Complete; any non-terminal state may move to Failed. Transitions are
// validated by the Job itself, logged, and mirrored into the job ledger.
//
// Each job works inside its own scratch directory named after the ASIN and the
// job id, removed on every exit path. Objects already uploaded by a job that
// does not reach Complete are deleted again. Pool bounds how many jobs run at
// once.
package acquisition
