// Package supervisor runs the external agent CLI for one dispatch.
//
// Each run gets its own process group. The task is written to stdin, the
// system prompt is passed by file, and stdout/stderr stream into the session
// directory while a bounded copy is kept in memory.
//
// Timeout handling:
//   - A timer fires at the request deadline (or the configured timeout)
//   - SIGTERM goes to the whole process group
//   - After the grace period SIGKILL follows if anything is still running
//   - A timed-out run is never reported as completed, whatever it printed
//
// Success gate: exit code 0, no timeout, and at least min_output_bytes of
// non-blank output after the JSON result envelope (if any) is unwrapped.
package supervisor
