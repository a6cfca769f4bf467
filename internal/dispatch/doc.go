// Package dispatch runs one job end to end: it provisions the ticket's
// workspace, opens a session, executes the agent through a Strategy and
// hands the result to the completion Deliverer.
//
// Each job runs in its own goroutine behind a Handle:
//   - Start returns immediately; Handle.Done delivers exactly one Result
//   - Run is Start followed by a wait
//
// Failure handling:
//   - Workspace problems degrade to the main repository and never fail a job
//   - Timeouts and agent failures are returned as ProcessTimeout or
//     ProcessFailure and nothing is delivered
//   - Output that looks like an exhausted credential or quota pauses the
//     system through the Escalator, whether the agent succeeded or not
//   - A RegressionRejected delivery fails the job; stored documents are
//     unchanged
package dispatch
