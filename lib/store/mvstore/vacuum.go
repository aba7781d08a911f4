package mvstore

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

var vacuumLog = logger.GetLogger("vacuum")

// --------------------------------------------------------------------------
// State machine
// --------------------------------------------------------------------------

// VacuumState is the state of the vacuum actor
type VacuumState int32

const (
	VacuumRunWait   VacuumState = iota // a pass runs as soon as nothing is paused
	VacuumRunning                      // a pass is in progress
	VacuumPauseWait                    // a pass is stopping at the next checkpoint
	VacuumPauseDone                    // paused, no vacuum write is active
	VacuumAbortWait                    // a pass is stopping for good
	VacuumAbortDone                    // the actor has exited
	VacuumFinish                       // idle until relaunched
)

func (s VacuumState) String() string {
	switch s {
	case VacuumRunWait:
		return "RUN_WAIT"
	case VacuumRunning:
		return "RUNNING"
	case VacuumPauseWait:
		return "PAUSE_WAIT"
	case VacuumPauseDone:
		return "PAUSE_DONE"
	case VacuumAbortWait:
		return "ABORT_WAIT"
	case VacuumAbortDone:
		return "ABORT_DONE"
	case VacuumFinish:
		return "FINISH"
	default:
		return "UNKNOWN"
	}
}

// errPassStopped is returned by a pass that honoured a checkpoint
var errPassStopped = errors.New("vacuum pass stopped at checkpoint")

// vacuumPass runs one pass. It must call checkpoint between its write
// steps and return errPassStopped as soon as checkpoint returns true.
type vacuumPass func(checkpoint func() bool) error

type vacuumCmdKind int

const (
	cmdRelaunch vacuumCmdKind = iota
	cmdPause
	cmdContinue
	cmdAbort
)

type vacuumCmd struct {
	kind     vacuumCmdKind
	relaunch bool
	done     chan struct{}
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// vacuumScheduler is the actor that owns the vacuum state machine. Callers
// send commands through the mailbox and wait for the acknowledgement; all
// state below is only touched by the actor goroutine, except state which is
// mirrored atomically for observation.
//
// Pause is reference counted: nested Pause/Continue pairs compose, and the
// actor only runs while the count is zero.
type vacuumScheduler struct {
	inbox    *util.Mailbox[vacuumCmd]
	pass     vacuumPass
	interval time.Duration
	state    atomic.Int32
	exited   chan struct{}

	// owned by the actor goroutine
	pauses   int
	relaunch bool
	waiting  []chan struct{} // Pause calls waiting for the pass to stop
}

func newVacuumScheduler(pass vacuumPass, interval time.Duration) *vacuumScheduler {
	v := &vacuumScheduler{
		inbox:    util.NewMailbox[vacuumCmd](),
		pass:     pass,
		interval: interval,
		exited:   make(chan struct{}),
	}
	v.state.Store(int32(VacuumRunWait))
	go v.run()
	return v
}

// State returns the current state
func (v *vacuumScheduler) State() VacuumState {
	return VacuumState(v.state.Load())
}

// Pause blocks until no vacuum write step is active. Every Pause must be
// followed by one Continue.
func (v *vacuumScheduler) Pause() { v.send(cmdPause, false) }

// Continue undoes one Pause. If relaunch is set one more pass is scheduled.
func (v *vacuumScheduler) Continue(relaunch bool) { v.send(cmdContinue, relaunch) }

// Relaunch schedules one more pass
func (v *vacuumScheduler) Relaunch() { v.send(cmdRelaunch, true) }

// Abort stops the actor and waits for it to exit. Later calls to any
// method return immediately.
func (v *vacuumScheduler) Abort() {
	v.send(cmdAbort, false)
	<-v.exited
}

func (v *vacuumScheduler) send(kind vacuumCmdKind, relaunch bool) {
	cmd := &vacuumCmd{kind: kind, relaunch: relaunch, done: make(chan struct{})}
	if !v.inbox.Push(cmd) {
		return
	}
	select {
	case <-cmd.done:
	case <-v.exited:
	}
}

func (v *vacuumScheduler) setState(s VacuumState) {
	v.state.Store(int32(s))
}

func (v *vacuumScheduler) run() {
	defer close(v.exited)

	var tick <-chan time.Time
	if v.interval > 0 {
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if v.State() == VacuumRunWait && v.pauses == 0 {
			v.runPass()
			if v.State() == VacuumAbortDone {
				v.shutdown()
				return
			}
			continue
		}

		select {
		case cmd, ok := <-v.inbox.Recv():
			if !ok {
				return
			}
			if v.handle(cmd) {
				v.shutdown()
				return
			}
		case <-tick:
			v.relaunch = true
			v.relaunchIfIdle()
		}
	}
}

// handle applies a command received while no pass is running. It reports
// whether the actor must exit.
func (v *vacuumScheduler) handle(cmd *vacuumCmd) bool {
	defer close(cmd.done)

	switch cmd.kind {
	case cmdPause:
		v.pauses++
		switch v.State() {
		case VacuumRunWait, VacuumPauseDone:
			v.setState(VacuumPauseDone)
		}
		// FINISH stays FINISH: paused and not relaunchable until Continue

	case cmdContinue:
		if v.pauses > 0 {
			v.pauses--
		}
		v.relaunch = v.relaunch || cmd.relaunch
		if v.pauses == 0 {
			switch v.State() {
			case VacuumPauseDone:
				v.relaunch = false
				v.setState(VacuumRunWait)
			case VacuumFinish:
				v.relaunchIfIdle()
			}
		}

	case cmdRelaunch:
		v.relaunch = true
		v.relaunchIfIdle()

	case cmdAbort:
		v.setState(VacuumAbortDone)
		return true
	}
	return false
}

// relaunchIfIdle moves FINISH to RUN_WAIT if a relaunch was requested and
// nothing is paused
func (v *vacuumScheduler) relaunchIfIdle() {
	if v.State() == VacuumFinish && v.pauses == 0 && v.relaunch {
		v.relaunch = false
		v.setState(VacuumRunWait)
	}
}

// checkpoint polls the mailbox between two write steps of a pass. It
// reports whether the pass must stop.
func (v *vacuumScheduler) checkpoint() bool {
	for {
		select {
		case cmd, ok := <-v.inbox.Recv():
			if !ok {
				v.setState(VacuumAbortWait)
				return true
			}
			switch cmd.kind {
			case cmdPause:
				v.pauses++
				v.setState(VacuumPauseWait)
				v.waiting = append(v.waiting, cmd.done)
				return true
			case cmdAbort:
				v.setState(VacuumAbortWait)
				v.waiting = append(v.waiting, cmd.done)
				return true
			case cmdContinue:
				if v.pauses > 0 {
					v.pauses--
				}
				v.relaunch = v.relaunch || cmd.relaunch
				close(cmd.done)
			case cmdRelaunch:
				// history grew during the pass, run once more afterwards
				v.relaunch = true
				close(cmd.done)
			}
		default:
			return false
		}
	}
}

func (v *vacuumScheduler) runPass() {
	v.setState(VacuumRunning)
	err := v.pass(v.checkpoint)

	switch v.State() {
	case VacuumPauseWait:
		v.setState(VacuumPauseDone)
	case VacuumAbortWait:
		v.setState(VacuumAbortDone)
	default:
		if err != nil && !errors.Is(err, errPassStopped) {
			vacuumErrorsTotal.Inc()
			vacuumLog.Warningf("vacuum pass failed: %v", err)
		}
		v.setState(VacuumFinish)
		v.relaunchIfIdle()
	}

	for _, done := range v.waiting {
		close(done)
	}
	v.waiting = v.waiting[:0]
}

// shutdown releases every caller still waiting on the mailbox
func (v *vacuumScheduler) shutdown() {
	v.inbox.Close()
	for cmd := range v.inbox.Recv() {
		close(cmd.done)
	}
	vacuumLog.Debugf("vacuum actor stopped")
}
