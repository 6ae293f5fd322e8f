package telegram

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// userQueue runs jobs in FIFO order per key, with one worker goroutine per
// key that has pending work. The worker exits once its queue drains.
type userQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func newUserQueue() *userQueue {
	return &userQueue{pending: make(map[int64][]func())}
}

func (q *userQueue) push(key int64, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, running := q.pending[key]
	q.pending[key] = append(jobs, job)
	if running {
		return
	}
	q.wg.Add(1)
	go q.drain(key)
}

func (q *userQueue) drain(key int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// wait blocks until every queued job has run.
func (q *userQueue) wait() { q.wg.Wait() }

// senderID is the queue key of an update; 0 groups updates with no sender.
func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	}
	return 0
}
