package service

// Package service implements supervision of extraction worker processes.
//
// Overview
// Exactly one Supervisor.Run call exists per job, started on its own
// goroutine by the API layer once the job is registered. A job never has a
// second worker process: re-running work means submitting a new job.
//
// Run is a thin, opinionated wrapper around os/exec:
//   - starts the worker with stdout and stderr merged into a single pipe
//     (ordering between the two streams is interleaved, not separately
//     observable)
//   - reads the pipe strictly line by line until end of stream
//   - applies the progress protocol to each line as it arrives, which is
//     what makes progress observable before the worker finishes
//   - maps the exit code to the terminal status and writes the end-of-job
//     audit entry
//
// Data flow:
//
//	API                       Supervisor                 worker
//	 |  go Run(ctx, id, inv) --->|                          |
//	 |                           | exec.Cmd Start --------->|
//	 |                           |<-- merged stdout/stderr--|
//	 |        registry mutations |                          |
//	 |                           |<-- exit code ------------|
//	 |                           | Finish + audit entry     |
//
// Invariants:
//   - Every Run writes exactly one end-of-job audit entry, on every path
//     including spawn failure.
//   - No error ever propagates out of Run; failures become the job's
//     terminal state and message.
//   - The registry entry is only mutated by the Run call owning the job.
