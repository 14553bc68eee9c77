package bot

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

const channelQueueSize = 64

// submission is one counting message waiting for a decision.
type submission struct {
	guildID   string
	channelID string
	messageID string
	authorID  string
	content   string
	reference *discordgo.MessageReference
}

// dispatcher hands each channel's submissions to a single worker, in the
// order Submit was called. Submit must be called from one goroutine per
// channel (the gateway reader, with SyncEvents on).
type dispatcher struct {
	mu     sync.Mutex
	queues map[string]chan submission
	handle func(submission)
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(handle func(submission)) *dispatcher {
	return &dispatcher{queues: make(map[string]chan submission), handle: handle}
}

// Submit queues sub behind earlier submissions for the same channel. It
// blocks when that channel's queue is full and drops sub after Close.
func (d *dispatcher) Submit(sub submission) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue(sub.guildID + ":" + sub.channelID) <- sub
	return true
}

// queue must be called with d.mu held.
func (d *dispatcher) queue(key string) chan submission {
	if q, ok := d.queues[key]; ok {
		return q
	}
	q := make(chan submission, channelQueueSize)
	d.queues[key] = q
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for sub := range q {
			d.handle(sub)
		}
	}()
	return q
}

// Close stops accepting work and waits for queued submissions to finish.
func (d *dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}
