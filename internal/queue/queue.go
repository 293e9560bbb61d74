package queue

import (
	"fmt"
	"io"

	"github.com/ssuji15/trainpool/model"
)

// Element is a queue member. It stays valid until it is deleted or the
// queue is destroyed.
type Element struct {
	job        *model.Job
	prev, next *Element
	queue      *Queue
}

func (e *Element) Job() *model.Job {
	return e.job
}

func (e *Element) Next() *Element {
	return e.next
}

func (e *Element) Prev() *Element {
	return e.prev
}

// Queue is an ordered, doubly linked list of jobs. It is not safe for
// concurrent mutation.
type Queue struct {
	head, tail *Element
	len        int
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) Len() int {
	return q.len
}

func (q *Queue) Front() *Element {
	return q.head
}

func (q *Queue) Back() *Element {
	return q.tail
}

// Append adds job at the tail.
func (q *Queue) Append(job *model.Job) *Element {
	e := &Element{job: job, prev: q.tail, queue: q}
	if q.tail != nil {
		q.tail.next = e
	} else {
		q.head = e
	}
	q.tail = e
	q.len++
	return e
}

// Delete unlinks e. Deleting an element of another queue, or one already
// deleted, does nothing.
func (q *Queue) Delete(e *Element) {
	if e == nil || e.queue != q {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
	e.prev, e.next, e.queue = nil, nil, nil
	q.len--
}

// Destroy removes every member.
func (q *Queue) Destroy() {
	for e := q.head; e != nil; {
		next := e.next
		e.prev, e.next, e.queue = nil, nil, nil
		e = next
	}
	q.head, q.tail, q.len = nil, nil, 0
}

// Jobs returns the members in queue order.
func (q *Queue) Jobs() []*model.Job {
	jobs := make([]*model.Job, 0, q.len)
	for e := q.head; e != nil; e = e.next {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Print writes one line per job, marking trained jobs with [x].
func (q *Queue) Print(w io.Writer) error {
	for e := q.head; e != nil; e = e.next {
		mark := " "
		if e.job.Trained() {
			mark = "x"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s", mark, e.job.Strategy); err != nil {
			return err
		}
		if e.job.Trained() {
			if _, err := fmt.Fprintf(w, " score=%d", e.job.Score); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
