package scan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type memKV map[string]string

func (m memKV) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m memKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func TestCheckpointAfterPartialFailure(t *testing.T) {
	kv := memKV{}
	s := &Scanner{Checkpoints: kv, Now: func() time.Time { return now }}
	cycle := s.checkpointed("record", func(context.Context) error { return errors.New("room sgl/a: sheets quota") })
	if err := cycle(context.Background()); err == nil {
		t.Fatal("cycle error should pass through")
	}
	if kv["scan:record:last_cycle"] != "2020-11-21T18:00:00Z" {
		t.Fatalf("kv = %v", kv)
	}
}

func TestNoCheckpointWhenCancelled(t *testing.T) {
	kv := memKV{}
	s := &Scanner{Checkpoints: kv, Now: func() time.Time { return now }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.checkpointed("create", func(context.Context) error { return context.Canceled })(ctx)
	if len(kv) != 0 {
		t.Fatalf("kv = %v", kv)
	}
}

func TestFresh(t *testing.T) {
	cases := []struct {
		name    string
		kv      memKV
		wantErr string
	}{
		{"never ran", memKV{}, "has not completed"},
		{"recent", memKV{"scan:create:last_cycle": "2020-11-21T17:50:00Z"}, ""},
		{"stale", memKV{"scan:create:last_cycle": "2020-11-21T16:00:00Z"}, "2h0m0s ago"},
		{"garbage", memKV{"scan:create:last_cycle": "yesterday"}, "checkpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scanner{Checkpoints: tc.kv, Now: func() time.Time { return now }}
			err := s.Fresh("create", 30*time.Minute)(context.Background())
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
