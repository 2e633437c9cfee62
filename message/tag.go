package message

import "sync"

// MonotoneTags hands out increasing tag numbers from a single goroutine, so
// they are safe to draw concurrently. Zero is skipped on wrap-around since it
// is reserved.
type MonotoneTags struct {
	next     chan uint16
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMonotoneTags() *MonotoneTags {
	var tags MonotoneTags
	tags.next = make(chan uint16, 42)
	tags.stop = make(chan struct{})
	go func() {
		defer close(tags.next)
		var tag uint16 = 1
		for {
			select {
			case tags.next <- tag:
				tag++
				if tag == 0 {
					tag++
				}
			case <-tags.stop:
				return
			}
		}
	}()
	return &tags
}

// Next returns the next tag, or the reserved zero tag once the generator has
// been stopped and drained.
func (t *MonotoneTags) Next() uint16 {
	return <-t.next
}

// Stop stops the goroutine that generates tag numbers. It can be called more
// than once.
func (t *MonotoneTags) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}
