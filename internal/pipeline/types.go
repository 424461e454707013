package pipeline

// Summary reports the outcome of one batch run
type Summary struct {
	Videos  int // videos processed successfully
	Skipped int // already done in an earlier run
	Failed  int // videos that errored out
	Clips   int // clips kept across the whole batch
}

// ScanResult reports the outcome of a single-subject pre-scan
type ScanResult struct {
	Scanned    int
	SingleCow  []string
	CopyFailed []string
}
