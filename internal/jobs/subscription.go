package jobs

import (
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Subscription wraps a Redis pub/sub subscription for job updates
type Subscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Channel returns a channel of job updates. It closes when the
// subscription does.
func (s *Subscription) Channel() <-chan *Job {
	jobCh := make(chan *Job)

	go func() {
		defer close(jobCh)
		for msg := range s.ch {
			var job Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				continue
			}
			jobCh <- &job
		}
	}()

	return jobCh
}

// Close closes the subscription
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
