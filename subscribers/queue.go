// Package subscribers implements the six file-storage subscriber families
// of spec.md §4.5: typed publishers that serialise change records into the
// spool queue for their family, built on io.FileQueueWriter (component B)
// and the wire codec (§6.1). All durability lives in the queue; these
// types are deliberately thin (spec.md §4.5: "observable side-effects are
// limited to the spool directory of the corresponding queue").
package subscribers

import (
	"github.com/ledgerwatch/catapult/config"
	catio "github.com/ledgerwatch/catapult/io"
	"github.com/ledgerwatch/catapult/metrics"
)

// Queue names are fixed (spec.md §4.5).
const (
	QueueBlockChange       = "block_change"
	QueueUTChange          = "unconfirmed_transactions_change"
	QueuePTChange          = "partial_transactions_change"
	QueueFinalization      = "finalization"
	QueueTransactionStatus = "transaction_status"
	QueueStateChange       = "state_change"
)

// newQueueWriter opens a FileQueueWriter rooted at the named spool queue
// and wires a metrics counter to its OnFlush hook (SPEC_FULL.md §4.5,
// component L).
func newQueueWriter(dataDir config.DataDirectory, queue string) (*catio.FileQueueWriter, error) {
	w, err := catio.NewFileQueueWriter(dataDir.SpoolDir(queue).Str())
	if err != nil {
		return nil, err
	}
	w.OnFlush(func() { metrics.QueueMessagesWritten.WithLabelValues(queue).Inc() })
	return w, nil
}
