package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxErrors bounds the retained error log.
const maxErrors = 100

// Statistics contains process-lifetime counters for compression jobs.
type Statistics struct {
	JobsStarted   int64
	JobsCompleted int64
	JobsFailed    int64
	JobsCancelled int64

	ImagesCompressed int64
	VideosCompressed int64
	AudioCompressed  int64
	ThumbnailsMade   int64

	BytesIn  int64
	BytesOut int64

	MetadataQueries int64
	CacheClears     int64

	StartTime time.Time

	Errors []StatError

	mutex sync.RWMutex

	KindStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	JobID     string    `json:"jobId,omitempty"`
	FilePath  string    `json:"filePath"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent, JSON-friendly copy of the counters.
type Snapshot struct {
	JobsStarted      int64            `json:"jobsStarted"`
	JobsCompleted    int64            `json:"jobsCompleted"`
	JobsFailed       int64            `json:"jobsFailed"`
	JobsCancelled    int64            `json:"jobsCancelled"`
	ImagesCompressed int64            `json:"imagesCompressed"`
	VideosCompressed int64            `json:"videosCompressed"`
	AudioCompressed  int64            `json:"audioCompressed"`
	ThumbnailsMade   int64            `json:"thumbnails"`
	BytesIn          int64            `json:"bytesIn"`
	BytesOut         int64            `json:"bytesOut"`
	BytesSaved       int64            `json:"bytesSaved"`
	SavedPercent     float64          `json:"savedPercent"`
	MetadataQueries  int64            `json:"metadataQueries"`
	CacheClears      int64            `json:"cacheClears"`
	Uptime           string           `json:"uptime"`
	KindStats        map[string]int64 `json:"kinds"`
	RecentErrors     []StatError      `json:"recentErrors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		KindStats: make(map[string]int64),
		Errors:    make([]StatError, 0),
	}
}

// JobStarted records a newly registered job of the given kind.
func (s *Statistics) JobStarted(kind string) {
	atomic.AddInt64(&s.JobsStarted, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.KindStats[kind]++
}

// JobCompleted records a successful job with its input and output sizes.
func (s *Statistics) JobCompleted(kind string, bytesIn, bytesOut int64) {
	atomic.AddInt64(&s.JobsCompleted, 1)
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)

	switch kind {
	case "image":
		atomic.AddInt64(&s.ImagesCompressed, 1)
	case "video":
		atomic.AddInt64(&s.VideosCompressed, 1)
	case "audio":
		atomic.AddInt64(&s.AudioCompressed, 1)
	}
}

// JobFailed increases the count of failed jobs by 1.
func (s *Statistics) JobFailed() {
	atomic.AddInt64(&s.JobsFailed, 1)
}

// JobCancelled increases the count of cancelled jobs by 1.
func (s *Statistics) JobCancelled() {
	atomic.AddInt64(&s.JobsCancelled, 1)
}

// IncrementThumbnails increases the count of created thumbnails by 1.
func (s *Statistics) IncrementThumbnails() {
	atomic.AddInt64(&s.ThumbnailsMade, 1)
}

// IncrementMetadataQueries increases the count of metadata queries by 1.
func (s *Statistics) IncrementMetadataQueries() {
	atomic.AddInt64(&s.MetadataQueries, 1)
}

// IncrementCacheClears increases the count of cache clears by 1.
func (s *Statistics) IncrementCacheClears() {
	atomic.AddInt64(&s.CacheClears, 1)
}

// AddError records an error, keeping only the most recent ones.
func (s *Statistics) AddError(jobID, filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		JobID:     jobID,
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.Errors) > maxErrors {
		s.Errors = append(s.Errors[:0:0], s.Errors[len(s.Errors)-maxErrors:]...)
	}
}

// Snapshot returns a copy of all counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	kinds := make(map[string]int64, len(s.KindStats))
	for k, v := range s.KindStats {
		kinds[k] = v
	}
	errs := append([]StatError(nil), s.Errors...)
	s.mutex.RUnlock()

	bytesIn := atomic.LoadInt64(&s.BytesIn)
	bytesOut := atomic.LoadInt64(&s.BytesOut)

	snap := Snapshot{
		JobsStarted:      atomic.LoadInt64(&s.JobsStarted),
		JobsCompleted:    atomic.LoadInt64(&s.JobsCompleted),
		JobsFailed:       atomic.LoadInt64(&s.JobsFailed),
		JobsCancelled:    atomic.LoadInt64(&s.JobsCancelled),
		ImagesCompressed: atomic.LoadInt64(&s.ImagesCompressed),
		VideosCompressed: atomic.LoadInt64(&s.VideosCompressed),
		AudioCompressed:  atomic.LoadInt64(&s.AudioCompressed),
		ThumbnailsMade:   atomic.LoadInt64(&s.ThumbnailsMade),
		BytesIn:          bytesIn,
		BytesOut:         bytesOut,
		BytesSaved:       bytesIn - bytesOut,
		MetadataQueries:  atomic.LoadInt64(&s.MetadataQueries),
		CacheClears:      atomic.LoadInt64(&s.CacheClears),
		Uptime:           time.Since(s.StartTime).Round(time.Second).String(),
		KindStats:        kinds,
		RecentErrors:     errs,
	}
	if bytesIn > 0 {
		snap.SavedPercent = float64(bytesIn-bytesOut) * 100 / float64(bytesIn)
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Media Compressor Statistics Summary:

Jobs:
		Started: %d
		Completed: %d
		Failed: %d
		Cancelled: %d

Outputs:
		Images: %d
		Videos: %d
		Audio: %d
		Thumbnails: %d

Bytes:
		In: %s
		Out: %s
		Saved: %s (%.1f%%)

Other:
		Metadata Queries: %d
		Cache Clears: %d
		Uptime: %s`,
		snap.JobsStarted,
		snap.JobsCompleted,
		snap.JobsFailed,
		snap.JobsCancelled,
		snap.ImagesCompressed,
		snap.VideosCompressed,
		snap.AudioCompressed,
		snap.ThumbnailsMade,
		FormatBytes(snap.BytesIn),
		FormatBytes(snap.BytesOut),
		FormatBytes(snap.BytesSaved),
		snap.SavedPercent,
		snap.MetadataQueries,
		snap.CacheClears,
		snap.Uptime)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
