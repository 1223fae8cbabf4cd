package redisstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/hotspot-cache/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestWriteIndexed_ThenSUnionAndMGet(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	err := rc.WriteIndexed(ctx, []Write{
		{Key: "hs:rec:a", Value: []byte("A"), Member: "a", SetKeys: []string{"hs:cell:2:x", "hs:cell:3:y"}},
		{Key: "hs:rec:b", Value: []byte("B"), Member: "b", SetKeys: []string{"hs:cell:2:x"}},
	})
	if err != nil {
		t.Fatalf("WriteIndexed: %v", err)
	}
	if ok, _ := mr.SIsMember("hs:cell:3:y", "a"); !ok {
		t.Fatalf("expected a in hs:cell:3:y")
	}

	members, err := rc.SUnion(ctx, []string{"hs:cell:2:x", "hs:cell:3:y", "hs:cell:2:missing"})
	if err != nil {
		t.Fatalf("SUnion: %v", err)
	}
	sort.Strings(members)
	if strings.Join(members, ",") != "a,b" {
		t.Fatalf("members=%v", members)
	}

	got, err := rc.MGet(ctx, []string{"hs:rec:a", "hs:rec:b", "hs:rec:missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["hs:rec:a"]) != "A" || string(got["hs:rec:b"]) != "B" {
		t.Fatalf("unexpected values: %+v", got)
	}
}

func TestDeleteMatching_OnlyRemovesPrefix(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	for i := range 1200 {
		_ = mr.Set(fmt.Sprintf("hs:rec:%d", i), "v")
	}
	_ = mr.Set("other:key", "keep")

	n, err := rc.DeleteMatching(ctx, "hs:*")
	if err != nil {
		t.Fatalf("DeleteMatching: %v", err)
	}
	if n != 1200 {
		t.Fatalf("removed=%d want 1200", n)
	}
	if !mr.Exists("other:key") {
		t.Fatalf("unrelated key must survive")
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("keys left=%v", mr.Keys())
	}
}

func TestDeleteMatching_InterleavedKeysAcrossScanPages(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	for i := range 1700 {
		_ = mr.Set(fmt.Sprintf("hs:cell:3:%04d", i), "v")
		_ = mr.Set(fmt.Sprintf("keep:%04d", i), "v")
	}

	n, err := rc.DeleteMatching(ctx, "hs:*")
	if err != nil {
		t.Fatalf("DeleteMatching: %v", err)
	}
	if n != 1700 {
		t.Fatalf("removed=%d want 1700", n)
	}
	if left := len(mr.Keys()); left != 1700 {
		t.Fatalf("keys left=%d want 1700", left)
	}
	for _, k := range mr.Keys() {
		if !strings.HasPrefix(k, "keep:") {
			t.Fatalf("matching key %q survived", k)
		}
	}

	n, err = rc.DeleteMatching(ctx, "hs:*")
	if err != nil || n != 0 {
		t.Fatalf("second pass removed=%d err=%v", n, err)
	}
}

func TestContextCanceled_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
	if err := rc.Ping(ctx); err == nil {
		t.Fatalf("expected error on Ping with canceled context")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestMetrics_StoreOpsRecorded(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	rc, _ := newMini(t)
	ctx := context.Background()

	_ = rc.WriteIndexed(ctx, []Write{{Key: "k", Value: []byte("v"), Member: "m", SetKeys: []string{"s"}}})
	_, _ = rc.MGet(ctx, []string{"k"})

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `op="redis_mget"`) || !strings.Contains(body, `op="redis_write_indexed"`) {
		t.Fatalf("missing store op metrics; got:\n%s", body)
	}
}
