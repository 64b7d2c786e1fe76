package server_test

import (
	"sync"
	"testing"

	"github.com/epokhe/kvs/internal/client"
	"github.com/epokhe/kvs/internal/pool"
	"github.com/epokhe/kvs/internal/server"
	"github.com/epokhe/kvs/internal/storage"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	dir := t.TempDir()
	e, err := storage.Open(dir, storage.WithCompactionEnabled(false))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	p := pool.NewSharedQueuePool(4)
	s := server.New(e, p)

	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() { _ = s.Serve("127.0.0.1:0") }()

	return s.Addr().String(), func() {
		_ = s.Close()
		_ = e.Close()
	}
}

func TestEndToEndGetSetRemove(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := client.Connect(addr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if resp, err := c.Set("k1", "value1"); err != nil || resp != "" {
		t.Fatalf("Set = (%q, %v), want (\"\", nil)", resp, err)
	}
	if resp, err := c.Get("k1"); err != nil || resp != "value1" {
		t.Fatalf("Get = (%q, %v), want (value1, nil)", resp, err)
	}
	if resp, err := c.Set("k1", "value2"); err != nil || resp != "" {
		t.Fatalf("Set overwrite = (%q, %v)", resp, err)
	}
	if resp, err := c.Get("k1"); err != nil || resp != "value2" {
		t.Fatalf("Get after overwrite = (%q, %v), want (value2, nil)", resp, err)
	}

	if resp, err := c.Get("k2"); err != nil || resp != client.KeyNotFound {
		t.Fatalf("Get missing = (%q, %v), want (%q, nil)", resp, err, client.KeyNotFound)
	}
	if resp, err := c.Remove("k2"); err != nil || resp != client.KeyNotFound {
		t.Fatalf("Remove missing = (%q, %v), want (%q, nil)", resp, err, client.KeyNotFound)
	}

	if resp, err := c.Remove("k1"); err != nil || resp != "" {
		t.Fatalf("Remove = (%q, %v), want (\"\", nil)", resp, err)
	}
	if resp, err := c.Get("k1"); err != nil || resp != client.KeyNotFound {
		t.Fatalf("Get after remove = (%q, %v), want (%q, nil)", resp, err, client.KeyNotFound)
	}
}

func TestConcurrentClients(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := client.Connect(addr)
			if err != nil {
				t.Errorf("Connect: %v", err)
				return
			}
			defer c.Close()

			key := "ckey"
			value := "cval"
			if _, err := c.Set(key, value); err != nil {
				t.Errorf("Set: %v", err)
				return
			}
			if got, err := c.Get(key); err != nil || got != value {
				t.Errorf("Get = (%q, %v), want (%q, nil)", got, err, value)
			}
		}(i)
	}
	wg.Wait()
}
