// internal/queue/keys.go
package queue

// keys names every Redis key of one queue: {prefix}:{queue}:...
type keys struct {
	base string
}

func newKeys(prefix, queue string) keys {
	return keys{base: prefix + ":" + queue + ":"}
}

// jobPrefix is the hash key prefix for jobs; jobKey(id) = jobPrefix + id.
func (k keys) jobPrefix() string { return k.base + "job:" }

func (k keys) job(id string) string { return k.jobPrefix() + id }

// waiting is a sorted set scored by jobScore.
func (k keys) waiting() string { return k.base + "waiting" }

// delayed is a sorted set scored by run_at in unix ms.
func (k keys) delayed() string { return k.base + "delayed" }

// active is a sorted set scored by started_at in unix ms.
func (k keys) active() string { return k.base + "active" }

// failed is a sorted set scored by failure time in unix ms.
func (k keys) failed() string { return k.base + "failed" }

// completed counts finished jobs; their hashes are dropped on completion.
func (k keys) completed() string { return k.base + "completed" }

// paused, when present, stops Dequeue for every tenant of the queue.
func (k keys) paused() string { return k.base + "paused" }

// lock serializes pause, resume and remove passes across processes.
func (k keys) lock() string { return k.base + "lock" }

// broadcast is the set of job ids owned by one broadcast.
func (k keys) broadcast(id string) string { return k.base + "broadcast:" + id }
