package realtime

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
)

// ErrEmitterClosed は終了済みのEmitterに送信したことを表す。
var ErrEmitterClosed = errors.New("接続は既に終了しています")

// SSEのイベント名。
const (
	EventConnect      = "connect"
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
)

// State はEmitterの状態を表す。
type State int

const (
	// StateCreated は登録済みで、ハンドシェイクと再送を行っている状態。
	StateCreated State = iota
	// StateActive はライブ配信中の状態。
	StateActive
	// StateCompleted はクライアントが切断した状態。
	StateCompleted
	// StateTimedOut は接続時間の上限に達した状態。
	StateTimedOut
	// StateFailed は書き込みに失敗した状態。
	StateFailed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// terminal は終了状態かどうかを返す。
func (s State) terminal() bool {
	return s >= StateCompleted
}

// Event はEmitterが書き出す1つのSSEイベント。
type Event struct {
	// ID はイベントID。ゼロ値の場合はid行を出力しない。
	ID ID
	// Name はSSEのevent名。
	Name string
	// Data はイベント本文。構造体はJSONとして書き出される。
	Data any
}

// Emitter は1つのSSE接続への書き込みを直列化する。
//
// CREATED状態で届いたライブイベントは保留し、Activateで再送済みのものを
// 除いて書き出す。終了状態への遷移は一度だけ起こり、登録済みの
// 終了時コールバックもその時に一度だけ実行される。
type Emitter struct {
	key   ID
	w     io.Writer
	flush func()
	retry time.Duration

	mu          sync.Mutex
	state       State
	err         error
	pending     []Event
	replayed    map[int64]struct{}
	onTerminate []func()
	done        chan struct{}
}

// NewEmitter はwに書き込むEmitterを生成する。flushはnilでもよい。
func NewEmitter(key ID, w io.Writer, flush func()) *Emitter {
	if flush == nil {
		flush = func() {}
	}
	return &Emitter{
		key:      key,
		w:        w,
		flush:    flush,
		replayed: make(map[int64]struct{}),
		done:     make(chan struct{}),
	}
}

// Key は接続キーを返す。
func (e *Emitter) Key() ID {
	return e.key
}

// State は現在の状態を返す。
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err は失敗で終了した場合の原因を返す。
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done は終了状態に遷移したときに閉じられるチャネルを返す。
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// OnTerminate は終了時に一度だけ呼ばれる関数を登録する。
// 既に終了している場合はその場で呼ぶ。
func (e *Emitter) OnTerminate(fn func()) {
	e.mu.Lock()
	if e.state.terminal() {
		e.mu.Unlock()
		fn()
		return
	}
	e.onTerminate = append(e.onTerminate, fn)
	e.mu.Unlock()
}

// Handshake は接続確立を知らせるconnectイベントを書き出す。
// retryが正の場合はクライアントの再接続間隔も伝える。
func (e *Emitter) Handshake(retry time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated {
		return fmt.Errorf("%w: %s", ErrEmitterClosed, e.state)
	}
	e.retry = retry
	return e.write(Event{ID: e.key, Name: EventConnect, Data: "connected: " + e.key.String()})
}

// Replay はキャッシュから取り出したイベントを順に書き出す。CREATED状態でのみ呼べる。
func (e *Emitter) Replay(events []CachedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated {
		return fmt.Errorf("%w: %s", ErrEmitterClosed, e.state)
	}
	for _, ev := range events {
		if err := e.write(ev.event()); err != nil {
			return err
		}
		e.replayed[ev.ID.Seq] = struct{}{}
	}
	return nil
}

// Activate は保留中のライブイベントのうち未再送のものを書き出し、ACTIVEに遷移する。
func (e *Emitter) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCreated {
		return fmt.Errorf("%w: %s", ErrEmitterClosed, e.state)
	}
	pending := e.pending
	e.pending = nil
	for _, ev := range pending {
		if _, ok := e.replayed[ev.ID.Seq]; ok && !ev.ID.IsZero() {
			continue
		}
		if err := e.write(ev); err != nil {
			return err
		}
	}
	e.replayed = nil
	e.state = StateActive
	return nil
}

// Send はイベントを送信する。CREATED状態では保留し、終了後はErrEmitterClosedを返す。
// 書き込みに失敗してもEmitterは終了させない。呼び出し側がFailで終了させる。
func (e *Emitter) Send(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state.terminal():
		return ErrEmitterClosed
	case e.state == StateCreated:
		e.pending = append(e.pending, ev)
		return nil
	}
	return e.write(ev)
}

// Complete はクライアント切断による終了に遷移する。
func (e *Emitter) Complete() {
	e.terminate(StateCompleted, nil)
}

// TimeOut は接続時間上限による終了に遷移する。
func (e *Emitter) TimeOut() {
	e.terminate(StateTimedOut, nil)
}

// Fail は書き込み失敗による終了に遷移する。
func (e *Emitter) Fail(err error) {
	e.terminate(StateFailed, err)
}

// terminate は終了状態に遷移し、登録済みのコールバックを呼ぶ。2回目以降は何もしない。
func (e *Emitter) terminate(state State, err error) {
	e.mu.Lock()
	if e.state.terminal() {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.err = err
	e.pending = nil
	callbacks := e.onTerminate
	e.onTerminate = nil
	close(e.done)
	e.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// write はSSEフレームを書き出してフラッシュする。e.muを保持して呼ぶこと。
func (e *Emitter) write(ev Event) error {
	frame := sse.Event{Event: ev.Name, Data: ev.Data}
	if !ev.ID.IsZero() {
		frame.Id = ev.ID.String()
	}
	if e.retry > 0 {
		frame.Retry = uint(e.retry.Milliseconds())
		e.retry = 0
	}
	// sse.Encodeは文字列データの書き込みエラーを返さないため、writerで記録する。
	w := &errWriter{w: e.w}
	if err := sse.Encode(w, frame); err != nil {
		return fmt.Errorf("SSEイベントの書き込みに失敗: %w", err)
	}
	if w.err != nil {
		return fmt.Errorf("SSEイベントの書き込みに失敗: %w", w.err)
	}
	e.flush()
	return nil
}

// errWriter は最初の書き込みエラーを保持し、以降の書き込みを止める。
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}
