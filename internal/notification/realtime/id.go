package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// seqWidth はワイヤ形式でのseqのゼロ埋め桁数。エポックミリ秒の桁数に合わせる。
const seqWidth = 13

// ErrInvalidID はイベントIDの形式が不正であることを表す。
var ErrInvalidID = errors.New("イベントIDの形式が不正です")

// ID は接続キーおよびイベントIDを表す。
// 順序はSeqで比較し、文字列として比較しない。
type ID struct {
	// UserID は接続またはイベントの所有ユーザー。
	UserID string
	// Seq は採番時刻（エポックミリ秒）に基づく単調増加値。
	Seq int64
}

// String はワイヤ形式 "{userId}_{seq}" を返す。
func (id ID) String() string {
	return fmt.Sprintf("%s_%0*d", id.UserID, seqWidth, id.Seq)
}

// IsZero は未設定のIDかどうかを返す。
func (id ID) IsZero() bool {
	return id.UserID == "" && id.Seq == 0
}

// MarshalText はワイヤ形式でエンコードする。
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText はワイヤ形式からデコードする。
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID はワイヤ形式の文字列をIDに変換する。
// ユーザーIDに "_" が含まれてもよいよう、最後の "_" で分割する。
func ParseID(s string) (ID, error) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	seq, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || seq < 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{UserID: s[:i], Seq: seq}, nil
}

// Sequencer はIDのseqを採番する。
// 返す値は max(現在のエポックミリ秒, 前回値+1) で、同一ミリ秒内でも重複しない。
type Sequencer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewSequencer は現在時刻を使うSequencerを生成する。
func NewSequencer() *Sequencer {
	return &Sequencer{now: time.Now}
}

// Next はユーザーの新しいIDを採番する。
func (s *Sequencer) Next(userID string) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.now().UnixMilli()
	if seq <= s.last {
		seq = s.last + 1
	}
	s.last = seq
	return ID{UserID: userID, Seq: seq}
}
