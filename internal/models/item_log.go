// -----------------------------------------------------------------------
// Item Log Entry - Per-queue-item log line retained for triage
// -----------------------------------------------------------------------

package models

// ItemLogEntry is one structured log line attributed to a queue item via
// the logger's correlation id. FullTimestamp (RFC3339) sorts; Timestamp is
// the short display form.
type ItemLogEntry struct {
	ID            string `json:"id" badgerhold:"key"`
	ItemID        string `json:"item_id" badgerhold:"index"`
	Timestamp     string `json:"timestamp"`
	FullTimestamp string `json:"full_timestamp"`
	Level         string `json:"level"`
	Message       string `json:"message"`
}
