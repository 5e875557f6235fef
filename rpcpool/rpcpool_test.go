package rpcpool

import (
	"testing"
	"time"

	"github.com/shenjiangwei/gomalloc"
)

const (
	testAddress      = "localhost:17345"
	testAddressAlloc = "localhost:17346"
)

func TestClientServerAllocateFree(t *testing.T) {
	server := NewServer(gomalloc.Config{})
	go func() {
		if err := server.Serve(testAddress); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	defer server.Close()

	time.Sleep(200 * time.Millisecond)

	client, err := Dial(testAddress)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	handle, err := client.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if handle == 0 {
		t.Fatalf("Allocate returned zero handle")
	}

	size, err := client.Free(handle)
	if err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if size == 0 {
		t.Fatalf("Free reported zero size")
	}

	if _, err := client.Free(handle); err == nil {
		t.Fatalf("expected error freeing an already-freed handle")
	}
}

func TestClientStatusReflectsAllocations(t *testing.T) {
	server := NewServer(gomalloc.Config{})
	go func() {
		if err := server.Serve(testAddressAlloc); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	defer server.Close()

	time.Sleep(200 * time.Millisecond)

	client, err := Dial(testAddressAlloc)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	handle, err := client.Allocate(64 * 1024)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Medium.AllocCount == 0 {
		t.Fatalf("Status reported zero medium allocations after a 64KB allocate")
	}

	if _, err := client.Free(handle); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
}
