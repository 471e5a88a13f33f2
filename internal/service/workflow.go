package service

import (
	"fmt"
	"time"

	"github.com/timmy/fitfinder/internal/domain"
)

// passWriter accumulates the stage changes of one operation. The first
// illegal move is kept in err and the commit is refused.
type passWriter struct {
	sess *domain.SearchSession
	now  time.Time
	rows []domain.StageTransition
	err  error
}

func newPassWriter(sess *domain.SearchSession, now time.Time) *passWriter {
	return &passWriter{sess: sess, now: now}
}

// start opens a new pass at created and drops the previous pass state.
func (w *passWriter) start() {
	w.sess.Pass++
	w.sess.Stage = domain.StageCreated
	w.sess.ClearSelection()
	w.sess.FailureReason = ""
	w.sess.FailureDetail = ""
	w.rows = append(w.rows, domain.StageTransition{
		SessionID: w.sess.ID,
		Pass:      w.sess.Pass,
		To:        domain.StageCreated,
		CreatedAt: w.now,
	})
}

func (w *passWriter) move(to domain.Stage) {
	w.record(to, "")
}

// fail moves to failed and records the failure on the session.
func (w *passWriter) fail(derr *domain.Error) {
	w.record(domain.StageFailed, derr.Reason)
	w.sess.FailureReason = derr.Reason
	w.sess.FailureDetail = derr.Detail
}

func (w *passWriter) record(to domain.Stage, reason domain.Reason) {
	if w.err != nil {
		return
	}
	from := w.sess.Stage
	if !domain.CanTransition(from, to) {
		w.err = fmt.Errorf("illegal stage transition %s -> %s", from, to)
		return
	}
	w.rows = append(w.rows, domain.StageTransition{
		SessionID: w.sess.ID,
		Pass:      w.sess.Pass,
		From:      from,
		To:        to,
		Reason:    reason,
		CreatedAt: w.now,
	})
	w.sess.Stage = to
}
