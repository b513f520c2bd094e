// redeem-loadgen is a tiny, dependency-free HTTP load generator for the
// dropcode demo. It reuses HTTP connections (keep-alive) and supports
// concurrency so demo scripts run fast on Windows (Git Bash), Ubuntu (WSL),
// and macOS without relying on external tools.
//
// Modes:
//   - seed:  upload N batches (burst size -burst) and print their codes
//   - storm: upload one batch, then race -c concurrent redeemers at its code
//     and report how many won (the answer had better be 1)
//   - churn: upload and immediately redeem N batches, end to end
//
// Usage examples:
//
//	redeem-loadgen -base=http://127.0.0.1:8080 -mode=seed -n=100 -burst=3
//	redeem-loadgen -base=http://127.0.0.1:8080 -mode=storm -c=64
//	redeem-loadgen -base=http://127.0.0.1:8080 -mode=churn -n=500 -c=16
//
// Notes:
//   - Prints a one-line summary with duration and approximate throughput.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeSeed  modeType = "seed"
	modeStorm modeType = "storm"
	modeChurn modeType = "churn"
)

type uploadReply struct {
	Code    string `json:"code"`
	Created bool   `json:"created"`
	Items   int    `json:"items"`
}

func main() {
	var (
		base  = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		modeS = flag.String("mode", string(modeChurn), "Mode: seed|storm|churn")
		N     = flag.Int("n", 100, "Number of batches to create (seed/churn)")
		burst = flag.Int("burst", 1, "Items per batch (uploads sharing one grouping key)")
		conc  = flag.Int("c", 8, "Number of concurrent workers / storm redeemers")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 60*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSeed && m != modeStorm && m != modeChurn {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want seed|storm|churn)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 || *burst <= 0 {
		fmt.Fprintln(os.Stderr, "-n, -c and -burst must be > 0")
		os.Exit(2)
	}

	baseURL := strings.TrimRight(*base, "/")

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	upload := func(group, name string) (uploadReply, error) {
		var out uploadReply
		u := baseURL + "/upload?" + url.Values{"group": {group}, "name": {name}}.Encode()
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader("payload-"+name))
		resp, err := client.Do(req)
		if err != nil {
			return out, err
		}
		defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return out, fmt.Errorf("upload status %d", resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		return out, err
	}

	// seedBatch uploads one full burst and returns its code.
	seedBatch := func(i int) (string, error) {
		group := fmt.Sprintf("loadgen-%d-%d", time.Now().UnixNano(), i)
		var code string
		for j := 0; j < *burst; j++ {
			rep, err := upload(group, fmt.Sprintf("item-%d.bin", j))
			if err != nil {
				return "", err
			}
			if rep.Created {
				code = rep.Code
			}
		}
		if code == "" {
			return "", fmt.Errorf("burst produced no code")
		}
		return code, nil
	}

	redeem := func(code, user string) (int, error) {
		u := baseURL + "/redeem?" + url.Values{"code": {code}, "user": {user}}.Encode()
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode, nil
	}

	start := time.Now()
	var requests int64

	switch m {
	case modeSeed:
		for i := 0; i < *N; i++ {
			code, err := seedBatch(i)
			if err != nil {
				fmt.Fprintf(os.Stderr, "seed %d: %v\n", i, err)
				os.Exit(1)
			}
			atomic.AddInt64(&requests, int64(*burst))
			fmt.Println(code)
		}

	case modeStorm:
		code, err := seedBatch(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed: %v\n", err)
			os.Exit(1)
		}
		var won, conflicted, other int64
		var wg sync.WaitGroup
		wg.Add(*conc)
		for w := 0; w < *conc; w++ {
			go func(id int) {
				defer wg.Done()
				status, err := redeem(code, fmt.Sprintf("stormer-%d", id))
				atomic.AddInt64(&requests, 1)
				switch {
				case err != nil:
					atomic.AddInt64(&other, 1)
				case status == http.StatusOK:
					atomic.AddInt64(&won, 1)
				case status == http.StatusConflict:
					atomic.AddInt64(&conflicted, 1)
				default:
					atomic.AddInt64(&other, 1)
				}
			}(w)
		}
		wg.Wait()
		fmt.Printf("Storm: code=%s winners=%d conflicts=%d other=%d\n", code, won, conflicted, other)
		if won != 1 {
			os.Exit(1)
		}

	case modeChurn:
		per := *N / *conc
		rem := *N - per**conc
		var failures int64
		var wg sync.WaitGroup
		wg.Add(*conc)
		for w := 0; w < *conc; w++ {
			count := per
			if w == *conc-1 {
				count += rem
			}
			go func(id, n int) {
				defer wg.Done()
				for i := 0; i < n; i++ {
					select {
					case <-ctx.Done():
						return
					default:
					}
					code, err := seedBatch(id*1_000_000 + i)
					if err != nil {
						atomic.AddInt64(&failures, 1)
						continue
					}
					status, err := redeem(code, fmt.Sprintf("churner-%d", id))
					atomic.AddInt64(&requests, int64(*burst)+1)
					if err != nil || status != http.StatusOK {
						atomic.AddInt64(&failures, 1)
					}
				}
			}(w, count)
		}
		wg.Wait()
		if failures > 0 {
			fmt.Fprintf(os.Stderr, "churn failures: %d\n", failures)
		}
	}

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	total := atomic.LoadInt64(&requests)
	ops := float64(total) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s requests=%d c=%d go=%d Duration=%s Throughput=%.0f req/s\n",
		m, total, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops)
}
