package constants

import "time"

// Handler constants
const (
	// DefaultSimilarLimit is the default number of similar sessions returned
	DefaultSimilarLimit = 5

	// MaxSimilarLimit caps the number of similar sessions a client may request
	MaxSimilarLimit = 50

	// DefaultDailyAnalyzeLimit is the number of analyze requests a user may make per day
	DefaultDailyAnalyzeLimit = 20

	// EventChannelBuffer is the buffer size of a progress event listener
	EventChannelBuffer = 100

	// RequestTimeout bounds a synchronous API request, analysis included
	RequestTimeout = 5 * time.Minute

	// MaxRequestBodySize limits JSON request bodies
	MaxRequestBodySize = 1 << 20
)

// Job constants
const (
	// DefaultJobTTL is how long a job status entry is retained
	DefaultJobTTL = 24 * time.Hour

	// JobJanitorInterval is how often expired in-memory job entries are evicted
	JobJanitorInterval = 5 * time.Minute

	// AnalysisTaskTimeout bounds a single queued analysis task
	AnalysisTaskTimeout = 10 * time.Minute

	// AnalysisTaskMaxRetry is the retry budget of a queued analysis task
	AnalysisTaskMaxRetry = 3
)

// Worker constants
const (
	// DefaultWorkerConcurrency is the number of analyses a worker runs in parallel
	DefaultWorkerConcurrency = 4

	// DefaultImageWorkers is the number of images preprocessed in parallel per analysis
	DefaultImageWorkers = 1
)
