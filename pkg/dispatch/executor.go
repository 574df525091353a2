package dispatch

// Executor is the caller-designated execution context completions are
// delivered on. The dispatcher never runs a completion on its background
// worker, so UI-owned state is only touched from wherever the caller drains
// its executor.
type Executor interface {
	Do(fn func())
}

// ChanExecutor queues completion functions on a channel for an event loop to
// drain, the usual arrangement when the caller owns an interactive loop.
type ChanExecutor struct {
	fns chan func()
}

var _ Executor = (*ChanExecutor)(nil)

func NewChanExecutor(buffer int) *ChanExecutor {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanExecutor{fns: make(chan func(), buffer)}
}

func (e *ChanExecutor) Do(fn func()) {
	e.fns <- fn
}

// C exposes the queue for select-based loops.
func (e *ChanExecutor) C() <-chan func() {
	return e.fns
}

// DrainOne blocks for the next queued completion and runs it. Returns false
// once the executor is closed and empty.
func (e *ChanExecutor) DrainOne() bool {
	fn, ok := <-e.fns
	if !ok {
		return false
	}
	fn()
	return true
}

func (e *ChanExecutor) Close() {
	close(e.fns)
}

// SyncExecutor runs completions inline on the worker's caller. Only suitable
// where no shared UI state is involved, such as tests and one-shot CLI use.
type SyncExecutor struct{}

var _ Executor = SyncExecutor{}

func (SyncExecutor) Do(fn func()) {
	fn()
}
