package state

import (
	"container/list"

	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
)

var allowedTransitions = map[models.MatchStatus][]models.MatchStatus{
	models.MatchStatusScheduled:  {models.MatchStatusInProgress},
	models.MatchStatusInProgress: {models.MatchStatusPaused, models.MatchStatusCompleted},
	models.MatchStatusPaused:     {models.MatchStatusInProgress, models.MatchStatusCompleted},
	models.MatchStatusCompleted:  {}, // terminal
}

// ValidateTransition checks from -> to against the match status machine.
func ValidateTransition(from, to models.MatchStatus) error {
	if !to.Valid() {
		return matcherr.Validation("unknown status",
			matcherr.FieldError{Field: "status", Message: "must be one of scheduled, in_progress, paused, completed"})
	}
	if from == to {
		return matcherr.Conflict("match is already %s", to)
	}

	allowedNext, exists := allowedTransitions[from]
	if !exists {
		return matcherr.Conflict("unknown current status: %s", from)
	}
	for _, allowed := range allowedNext {
		if allowed == to {
			return nil
		}
	}
	return matcherr.Conflict("cannot transition from %s to %s", from, to)
}

const correlationCacheSize = 256

// correlationCache remembers the events accepted for recent client correlation
// ids. Guarded by the owning entry's lock.
type correlationCache struct {
	size  int
	order *list.List
	items map[string]*list.Element
}

type correlationItem struct {
	key   string
	event models.MatchEvent
}

func newCorrelationCache(size int) *correlationCache {
	return &correlationCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func (c *correlationCache) get(key string) (models.MatchEvent, bool) {
	el, ok := c.items[key]
	if !ok {
		return models.MatchEvent{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*correlationItem).event, true
}

func (c *correlationCache) put(key string, ev models.MatchEvent) {
	if el, ok := c.items[key]; ok {
		el.Value.(*correlationItem).event = ev
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&correlationItem{key: key, event: ev})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*correlationItem).key)
	}
}
