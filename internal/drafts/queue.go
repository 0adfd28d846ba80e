package drafts

import "context"

// publishQueue serializes publishes of one bucket. Waiters are admitted one at a time.
type publishQueue struct {
	slot chan struct{}
}

func newPublishQueue() *publishQueue {
	return &publishQueue{slot: make(chan struct{}, 1)}
}

func (q *publishQueue) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *publishQueue) release() { <-q.slot }
