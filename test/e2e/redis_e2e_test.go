//go:build e2e

package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dropcode"
	"dropcode/internal/redemption/storage"
)

// TestRedisStoreE2E verifies the real Redis adapter path: create, append,
// one-time redeem, and stats against a live server. Requires a Redis at
// 127.0.0.1:6379.
func TestRedisStoreE2E(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}

	ctx := context.Background()
	code := "e2eRds"
	// Clean slate for this code.
	_ = rc.Del(ctx, "drop:batch:"+code, "drop:refs:"+code).Err()
	_ = rc.SRem(ctx, "drop:codes", code).Err()

	s := storage.NewRedisStore(storage.NewGoRedisEvaler("127.0.0.1:6379"))

	if err := s.Create(ctx, code, dropcode.NewBatch(code, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, code, dropcode.NewBatch(code, time.Now())); !errors.Is(err, dropcode.ErrAlreadyExists) {
		t.Fatalf("duplicate create: err = %v", err)
	}
	for _, ref := range []string{"ref-1", "ref-2"} {
		if _, err := s.AppendContent(ctx, code, ref); err != nil {
			t.Fatalf("append %s: %v", ref, err)
		}
	}

	refs, err := s.Redeem(ctx, code, "42", "user 42")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if len(refs) != 2 || refs[0] != "ref-1" || refs[1] != "ref-2" {
		t.Fatalf("refs = %v", refs)
	}

	_, err = s.Redeem(ctx, code, "99", "user 99")
	var used *dropcode.AlreadyUsedError
	if !errors.As(err, &used) || used.RedeemedByDisplay != "user 42" {
		t.Fatalf("second redeem: err = %v, want AlreadyUsedError{user 42}", err)
	}

	b, err := s.Get(ctx, code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !b.Used || b.RedeemedBy != "42" || len(b.ContentRefs) != 2 {
		t.Fatalf("batch = %+v", b)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total < 1 || st.Used < 1 {
		t.Fatalf("stats = %+v", st)
	}
}

// TestRedisStoreE2E_ConcurrentRedeem races redeemers through the Lua script
// path on a live Redis and requires exactly one winner.
func TestRedisStoreE2E_ConcurrentRedeem(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}

	ctx := context.Background()
	code := "e2eRce"
	_ = rc.Del(ctx, "drop:batch:"+code, "drop:refs:"+code).Err()
	_ = rc.SRem(ctx, "drop:codes", code).Err()

	s := storage.NewRedisStore(storage.NewGoRedisEvaler("127.0.0.1:6379"))
	if err := s.Create(ctx, code, dropcode.NewBatch(code, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendContent(ctx, code, "ref-1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	const racers = 16
	wins := make(chan struct{}, racers)
	done := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			if _, err := s.Redeem(ctx, code, "42", "user 42"); err == nil {
				wins <- struct{}{}
			}
		}(i)
	}
	for i := 0; i < racers; i++ {
		<-done
	}
	close(wins)
	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("winners = %d, want exactly 1", n)
	}
}
