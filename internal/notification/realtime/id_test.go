package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestIDString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   ID
		want string
	}{
		{name: "13桁にゼロ埋めされること", id: ID{UserID: "u1", Seq: 150}, want: "u1_0000000000150"},
		{name: "エポックミリ秒はそのまま", id: ID{UserID: "u1", Seq: 1760000000000}, want: "u1_1760000000000"},
		{name: "アンダースコアを含むユーザーID", id: ID{UserID: "user_a", Seq: 1}, want: "user_a_0000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.id.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{name: "ゼロ埋め形式", input: "u1_0000000000150", want: ID{UserID: "u1", Seq: 150}},
		{name: "ゼロ埋めなしも受け付けること", input: "u1_150", want: ID{UserID: "u1", Seq: 150}},
		{name: "最後のアンダースコアで分割すること", input: "user_a_42", want: ID{UserID: "user_a", Seq: 42}},
		{name: "区切りが無い", input: "u1150", wantErr: true},
		{name: "ユーザーIDが空", input: "_150", wantErr: true},
		{name: "seqが空", input: "u1_", wantErr: true},
		{name: "seqが数値でない", input: "u1_abc", wantErr: true},
		{name: "seqが負", input: "u1_-5", wantErr: true},
		{name: "空文字列", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("err = %v, want ErrInvalidID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseID()でエラー: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseID() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIDJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		ID ID `json:"id"`
	}{ID: ID{UserID: "u1", Seq: 7}})
	if err != nil {
		t.Fatalf("Marshalに失敗: %v", err)
	}
	if string(b) != `{"id":"u1_0000000000007"}` {
		t.Errorf("JSON = %s", b)
	}

	var decoded struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshalに失敗: %v", err)
	}
	if decoded.ID != (ID{UserID: "u1", Seq: 7}) {
		t.Errorf("decoded = %+v", decoded.ID)
	}
}

func TestSequencer(t *testing.T) {
	t.Parallel()

	t.Run("同一ミリ秒でも単調増加すること", func(t *testing.T) {
		t.Parallel()

		fixed := time.UnixMilli(1760000000000)
		s := &Sequencer{now: func() time.Time { return fixed }}
		a := s.Next("u1")
		b := s.Next("u1")
		c := s.Next("u2")
		if a.Seq != 1760000000000 || b.Seq != a.Seq+1 || c.Seq != b.Seq+1 {
			t.Errorf("seq = %d, %d, %d", a.Seq, b.Seq, c.Seq)
		}
	})

	t.Run("時刻が戻っても減少しないこと", func(t *testing.T) {
		t.Parallel()

		now := time.UnixMilli(2000)
		s := &Sequencer{now: func() time.Time { return now }}
		first := s.Next("u1")
		now = time.UnixMilli(1000)
		if second := s.Next("u1"); second.Seq <= first.Seq {
			t.Errorf("second.Seq = %d, want > %d", second.Seq, first.Seq)
		}
	})

	t.Run("並行して採番しても重複しないこと", func(t *testing.T) {
		t.Parallel()

		s := NewSequencer()
		const n = 200
		ids := make(chan int64, n)
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids <- s.Next("u1").Seq
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[int64]struct{}, n)
		for seq := range ids {
			if _, dup := seen[seq]; dup {
				t.Fatalf("seq %d が重複した", seq)
			}
			seen[seq] = struct{}{}
		}
	})
}
