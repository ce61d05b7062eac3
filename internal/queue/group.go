package queue

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var slowSuffixRe = regexp.MustCompile(`^(.+)@slow([0-9]+)$`)

// ParsePrefix отделяет суффикс @slowN от префикса.
func ParsePrefix(prefix string) (string, time.Duration) {
	m := slowSuffixRe.FindStringSubmatch(prefix)
	if m == nil {
		return prefix, 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return prefix, 0
	}
	return m[1], time.Duration(n) * time.Second
}

// parked — воркер, ждущий событие.
type parked struct {
	id   string
	slow time.Duration
	ch   chan *Event
	done bool
}

// release отдаёт событие воркеру. Вызывается под мьютексом брокера
// не более одного раза.
func (p *parked) release(e *Event) {
	p.done = true
	p.ch <- e
}

// group — группа воркеров одного префикса.
type group struct {
	prefix    string
	queue     []*Event
	fast      []*parked
	slow      []*parked
	lastPoll  time.Time
	lastFast  time.Time
	pings     map[string]time.Time
	delivered int64
}

func newGroup(prefix string) *group {
	return &group{prefix: prefix, pings: make(map[string]time.Time)}
}

// popFast возвращает ждущего быстрого воркера.
func (g *group) popFast() *parked {
	for len(g.fast) > 0 {
		p := g.fast[0]
		g.fast = g.fast[1:]
		if !p.done {
			return p
		}
	}
	return nil
}

// pop возвращает первое событие очереди, ещё ждущее воркера.
func (g *group) pop(live func(*Event) bool) *Event {
	for len(g.queue) > 0 {
		e := g.queue[0]
		g.queue = g.queue[1:]
		if live(e) {
			return e
		}
	}
	return nil
}

// peek возвращает первое живое событие без извлечения.
func (g *group) peek(live func(*Event) bool) *Event {
	for len(g.queue) > 0 {
		if e := g.queue[0]; live(e) {
			return e
		}
		g.queue = g.queue[1:]
	}
	return nil
}

func removeParked(list []*parked, p *parked) []*parked {
	for i, x := range list {
		if x == p {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// routes — отсортированный список префиксов групп.
type routes struct {
	prefixes []string
	groups   map[string]*group
}

func newRoutes() *routes {
	return &routes{groups: make(map[string]*group)}
}

func (r *routes) add(g *group) {
	r.groups[g.prefix] = g
	i := sort.SearchStrings(r.prefixes, g.prefix)
	r.prefixes = append(r.prefixes, "")
	copy(r.prefixes[i+1:], r.prefixes[i:])
	r.prefixes[i] = g.prefix
}

// lookup возвращает группу с самым длинным префиксом path.
//
// Префиксы path лексикографически не больше path, а более длинный
// префикс больше более короткого, поэтому первый префикс при движении
// вниз от floor(path) и есть самый длинный.
func (r *routes) lookup(path string) *group {
	i := sort.Search(len(r.prefixes), func(i int) bool { return r.prefixes[i] > path }) - 1
	for ; i >= 0; i-- {
		if strings.HasPrefix(path, r.prefixes[i]) {
			return r.groups[r.prefixes[i]]
		}
	}
	return nil
}

func (r *routes) list() []*group {
	out := make([]*group, 0, len(r.prefixes))
	for _, p := range r.prefixes {
		out = append(out, r.groups[p])
	}
	return out
}
