package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errQueueFull = errors.New("write queue full")

type writeJob struct {
	id      uint64
	payload []byte
}

type writeResult struct {
	session uint64
	err     error
}

type pendingWrite struct {
	session uint64
	reply   chan writeResult
	timer   *time.Timer
}

// Write sends payload to the command characteristic of the Ready session
// and waits for the acknowledgement. It returns the session the write went
// over. Failures are *SendError values: ErrNotConnected when no session is
// Ready, ErrTransportFailure when the write was refused, timed out or the
// link closed under it.
func (m *Manager) Write(ctx context.Context, payload []byte) (uint64, error) {
	reply := make(chan writeResult, 1)
	if !m.post(writeReq{payload: payload, reply: reply}) {
		return 0, &SendError{Kind: ErrNotConnected, Err: ErrShutdown}
	}
	select {
	case r := <-reply:
		return r.session, r.err
	case <-ctx.Done():
		return 0, &SendError{Kind: ErrTransportFailure, Err: ctx.Err()}
	case <-m.done:
		return 0, &SendError{Kind: ErrNotConnected, Err: ErrShutdown}
	}
}

func (m *Manager) onWriteReq(req writeReq) {
	s := m.sess
	if s == nil || m.state != Ready {
		m.answerWrite(req.reply, writeResult{err: &SendError{Kind: ErrNotConnected}})
		return
	}
	m.writeSeq++
	job := writeJob{id: m.writeSeq, payload: req.payload}
	select {
	case s.writes <- job:
	default:
		m.answerWrite(req.reply, writeResult{session: s.ID, err: &SendError{Kind: ErrTransportFailure, Err: errQueueFull}})
		return
	}
	id := job.id
	m.pending[id] = &pendingWrite{
		session: s.ID,
		reply:   req.reply,
		timer: time.AfterFunc(m.opts.WriteTimeout, func() {
			m.post(writeTimeout{write: id})
		}),
	}
}

// resolveWrite answers a pending write. Late acks for writes that already
// timed out or were failed by a disconnect are ignored.
func (m *Manager) resolveWrite(id uint64, err error) {
	p, ok := m.pending[id]
	if !ok {
		return
	}
	delete(m.pending, id)
	p.timer.Stop()
	if err != nil {
		m.log.Warn("session: write failed", zap.Uint64("session", p.session), zap.Error(err))
	}
	m.answerWrite(p.reply, writeResult{session: p.session, err: err})
}

func (m *Manager) failPending(session uint64) {
	for id, p := range m.pending {
		if p.session != session {
			continue
		}
		delete(m.pending, id)
		p.timer.Stop()
		m.answerWrite(p.reply, writeResult{session: session, err: &SendError{Kind: ErrTransportFailure, Err: ErrLinkClosed}})
	}
}

// writer serializes characteristic writes for one session.
func (m *Manager) writer(s *activeSession) {
	for {
		select {
		case <-s.closed:
			return
		case job := <-s.writes:
			select {
			case <-s.closed:
				return
			default:
			}
			if err := s.char.Write(job.payload); err != nil {
				m.post(WriteFailed{Session: s.ID, Write: job.id, Err: err})
				continue
			}
			m.post(WriteAck{Session: s.ID, Write: job.id})
		}
	}
}
