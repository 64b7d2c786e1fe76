// Package pool implements the three job-dispatch strategies the server can
// run connections under: a goroutine-per-job pool with no reuse, a fixed
// pool of workers pulling from a shared queue, and a work-stealing pool
// backed by ants.
package pool

// Pool runs jobs submitted to it. Submit never blocks on the job's
// completion; the job runs asynchronously.
type Pool interface {
	Submit(job func())
	// Close stops accepting new jobs and waits for already-submitted jobs
	// to finish.
	Close()
}

// Kind selects a Pool implementation, mirroring the Rust source's three
// ThreadPool backends.
type Kind string

const (
	KindNaive       Kind = "naive"
	KindSharedQueue Kind = "shared-queue"
	KindStealing    Kind = "stealing"
)

// New builds the pool named by kind with the given worker count.
func New(kind Kind, numWorkers int) (Pool, error) {
	switch kind {
	case KindNaive, "":
		return NewNaivePool(), nil
	case KindSharedQueue:
		return NewSharedQueuePool(numWorkers), nil
	case KindStealing:
		return NewStealingPool(numWorkers)
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

// UnknownKindError reports an unrecognized pool Kind passed to New.
type UnknownKindError struct{ Kind Kind }

func (e *UnknownKindError) Error() string { return "pool: unknown kind " + string(e.Kind) }
