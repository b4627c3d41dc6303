package ports

// Metric names shared by the pipeline stages and the Prometheus adapter.
const (
	MetricPatchesWritten   = "railflow_patches_written_total"
	MetricPatchDLQ         = "railflow_patch_dlq_total"
	MetricJournalDropped   = "railflow_journal_dropped_total"
	MetricSessions         = "railflow_sessions_total"
	MetricWheelReports     = "railflow_wheel_reports_total"
	MetricWheelDropped     = "railflow_wheel_pending_dropped_total"
	MetricFeedDropped      = "railflow_feed_dropped_total"
	MetricMailboxWriteFail = "railflow_mailbox_write_failed_total"
	MetricRowsFinalized    = "railflow_rows_finalized_total"
	MetricRowsEmitted      = "railflow_rows_emitted_total"
	MetricWALSize          = "railflow_wal_size_bytes"
	MetricJournalQueueLen  = "railflow_journal_queue_length"
	MetricWheelPending     = "railflow_wheel_pending"
	MetricStoreLatency     = "railflow_store_latency_seconds"
	MetricLoopPanics       = "railflow_loop_panics_total"
)
