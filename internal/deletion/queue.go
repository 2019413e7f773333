// Package deletion holds the teardown stack that undoes renderer
// initialization.
package deletion

// Queue is a stack of teardown actions. Actions are pushed as resources are
// created and run in reverse order by Flush, so whatever was created last is
// released first.
//
// Queue is not safe for concurrent use; it is only touched during
// single-threaded setup and shutdown.
type Queue struct {
	actions []func()
}

// Push appends a teardown action. Nil actions are ignored.
func (q *Queue) Push(action func()) {
	if action == nil {
		return
	}
	q.actions = append(q.actions, action)
}

// Flush runs every pushed action in last-in-first-out order and empties the
// queue. A panicking action is not recovered.
func (q *Queue) Flush() {
	for len(q.actions) > 0 {
		last := len(q.actions) - 1
		action := q.actions[last]
		q.actions[last] = nil
		q.actions = q.actions[:last]

		action()
	}
}

// Len reports how many actions are waiting to run.
func (q *Queue) Len() int {
	return len(q.actions)
}
