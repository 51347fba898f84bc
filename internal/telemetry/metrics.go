package telemetry

// Tailing engine metrics
var (
	// SessionsOpened counts oplog cursors opened
	SessionsOpened Counter = NoopStat{}

	// SessionFailures counts sessions that ended with an error
	SessionFailures Counter = NoopStat{}

	// CursorDeaths counts cursors closed by the server
	CursorDeaths Counter = NoopStat{}

	// EmptyPolls counts reads that returned nothing, by await_capable (true, false)
	EmptyPolls CounterVec = noopCounterVec{}

	// EntriesDelivered counts entries handed to the sink, by operation
	EntriesDelivered CounterVec = noopCounterVec{}

	// EntriesSkipped counts oplog documents that could not be decoded
	EntriesSkipped Counter = NoopStat{}

	// LastEntryTimestamp is the oplog time of the last delivered entry (unix seconds)
	LastEntryTimestamp Gauge = NoopStat{}
)

func registerMetrics() {
	SessionsOpened = newCounter("sessions_opened_total", "Oplog tailing sessions opened")
	SessionFailures = newCounter("session_failures_total", "Oplog tailing sessions that ended with an error")
	CursorDeaths = newCounter("cursor_deaths_total", "Oplog cursors closed by the server")
	EmptyPolls = newCounterVec("empty_polls_total", "Cursor advances that returned no entry", []string{"await_capable"})
	EntriesDelivered = newCounterVec("entries_delivered_total", "Oplog entries delivered to the sink", []string{"op"})
	EntriesSkipped = newCounter("entries_skipped_total", "Oplog documents skipped because they could not be decoded")
	LastEntryTimestamp = newGauge("last_entry_timestamp_seconds", "Oplog time of the last delivered entry")
}
