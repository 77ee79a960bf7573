package txn

import "errors"

// ErrCommitDependencyAborted is the terminal error Txn.Err reports for a
// dependent transaction that aborted because a PREPARING predecessor it
// depended on resolved to ABORTED (§7). Txn.resolveOutcome sets it at the
// point a transaction's dependency set resolves to an abort, and Txn.Err
// surfaces it to callers once the transaction is terminal.
var ErrCommitDependencyAborted = errors.New("txn: commit dependency aborted")
