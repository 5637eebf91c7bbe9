package metrics

import "time"

// Content holds the metrics of the content service.
type Content struct {
	Registry *Registry

	Reads        *Counter
	ReadMisses   *Counter
	Saves        *Counter
	SaveFailures *Counter
	Rejected     *Counter
	SaveDuration *Histogram
	SaveBytes    *Histogram
}

// NewContent registers the content service metrics in a fresh registry.
func NewContent() *Content {
	r := NewRegistry("lessonsync", "content")
	return &Content{
		Registry:     r,
		Reads:        r.Counter("reads_total", "Documents served.", nil),
		ReadMisses:   r.Counter("read_misses_total", "Reads of documents that do not exist.", nil),
		Saves:        r.Counter("saves_total", "Documents saved.", nil),
		SaveFailures: r.Counter("save_failures_total", "Saves that could not be written.", nil),
		Rejected:     r.Counter("rejected_total", "Requests rejected for bad paths, tokens or content.", nil),
		SaveDuration: r.Histogram("save_duration_seconds", "Time spent validating and writing a document.", nil, DurationBuckets),
		SaveBytes:    r.Histogram("save_bytes", "Size of saved documents.", nil, SizeBuckets),
	}
}

// ObserveSave records a successful save.
func (c *Content) ObserveSave(d time.Duration, size int) {
	c.Saves.Inc()
	c.SaveDuration.ObserveDuration(d)
	c.SaveBytes.Observe(float64(size))
}
