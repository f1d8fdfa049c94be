package staff

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hospiverse/clinic-engine/identity"
)

// writeTimeout bounds one background store write.
const writeTimeout = 10 * time.Second

// UpdateFailure reports an optimistic update the store did not accept.
type UpdateFailure struct {
	ID     string
	Fields Fields
	Err    error
	At     time.Time
}

type job struct {
	id      string
	fields  Fields
	// barrier, when set, is closed once every earlier job was processed.
	barrier chan struct{}
}

// reconciler applies queued profile updates on one goroutine, in the
// order they were accepted.
type reconciler struct {
	dir      *Directory
	queue    chan job
	failures chan UpdateFailure
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// sendMu guards closed against concurrent enqueue.
	sendMu sync.RWMutex
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once

	subsMu sync.Mutex
	subs   map[int]func(UpdateFailure)
	nextID int
}

func newReconciler(d *Directory, queueSize, failureBuffer int) *reconciler {
	return &reconciler{
		dir:      d,
		queue:    make(chan job, queueSize),
		failures: make(chan UpdateFailure, failureBuffer),
		stopCh:   make(chan struct{}),
		subs:     make(map[int]func(UpdateFailure)),
	}
}

func (r *reconciler) start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
		r.dir.log.WithComponent("staff-reconciler").Info("Started")
	})
}

func (r *reconciler) stop() {
	r.stopOnce.Do(func() {
		r.sendMu.Lock()
		r.closed = true
		r.sendMu.Unlock()

		// A reconciler that never started still owes the queued writes.
		r.start()
		close(r.stopCh)
		r.wg.Wait()
		close(r.failures)
		r.dir.log.WithComponent("staff-reconciler").Info("Stopped")
	})
}

func (r *reconciler) enqueue(ctx context.Context, j job) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *reconciler) run() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.queue:
			r.process(j)
		case <-r.stopCh:
			for {
				select {
				case j := <-r.queue:
					r.process(j)
				default:
					return
				}
			}
		}
	}
}

func (r *reconciler) process(j job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	defer r.dir.settle(j.id)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.dir.profiles.Update(ctx, j.id, j.fields.record())
	if err == nil {
		r.dir.log.WithField("user_id", j.id).Info("Staff update reconciled")
		return
	}

	r.dir.metrics.ObserveReconcileFailure()
	r.dir.log.WithError(err).WithField("user_id", j.id).Error("Staff update failed to persist")
	r.publish(UpdateFailure{ID: j.id, Fields: j.fields, Err: err, At: time.Now()})
}

func (r *reconciler) publish(f UpdateFailure) {
	r.subsMu.Lock()
	subs := make([]func(UpdateFailure), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subsMu.Unlock()
	for _, fn := range subs {
		fn(f)
	}

	select {
	case r.failures <- f:
	default:
		r.dir.log.WithField("user_id", f.ID).Warn("Failure channel full, event not buffered")
	}
}

func (r *reconciler) subscribe(fn func(UpdateFailure)) func() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *reconciler) flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.enqueue(ctx, job{barrier: done}); err != nil {
		if err == ErrClosed {
			// stop already drained the queue
			return nil
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortByName(list []identity.Identity) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].FullName != list[j].FullName {
			return list[i].FullName < list[j].FullName
		}
		return list[i].ID < list[j].ID
	})
}
