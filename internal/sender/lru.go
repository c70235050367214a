package sender

import "container/list"

// key identifies an InValidation record by the tuple the registry is
// keyed on (spec.md §4.5): submitter and block.
type key struct {
	PublicKey string
	BlockHash string
}

// lru is a fixed-capacity, eviction-on-insert cache, adapted from the
// pack's witness.LRU (dag/witness/cache.go) and narrowed to a plain
// entry-count cap since in-validation records are small and short-lived;
// there is no byte budget to enforce here.
type lru struct {
	cap     int
	ll      *list.List
	entries map[key]*list.Element
}

type entry struct {
	key   key
	value *inValidation
}

func newLRU(capEntries int) *lru {
	if capEntries <= 0 {
		capEntries = 1
	}
	return &lru{
		cap:     capEntries,
		ll:      list.New(),
		entries: make(map[key]*list.Element, capEntries),
	}
}

func (l *lru) get(k key) (*inValidation, bool) {
	el, ok := l.entries[k]
	if !ok {
		return nil, false
	}
	l.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

func (l *lru) put(k key, v *inValidation) {
	if el, ok := l.entries[k]; ok {
		el.Value.(*entry).value = v
		l.ll.MoveToFront(el)
		return
	}
	el := l.ll.PushFront(&entry{key: k, value: v})
	l.entries[k] = el
	l.evict()
}

func (l *lru) remove(k key) {
	if el, ok := l.entries[k]; ok {
		l.ll.Remove(el)
		delete(l.entries, k)
	}
}

func (l *lru) evict() {
	for l.ll.Len() > l.cap {
		el := l.ll.Back()
		if el == nil {
			return
		}
		delete(l.entries, el.Value.(*entry).key)
		l.ll.Remove(el)
	}
}

func (l *lru) len() int { return l.ll.Len() }
