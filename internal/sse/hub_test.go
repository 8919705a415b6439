package sse

import (
	"testing"
	"time"

	redisclient "github.com/knowgraph/knowgraph-backend/internal/clients/redis"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
)

func testHub(t *testing.T) *ProgressHub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewProgressHub(log)
}

func TestBroadcastRoutesByJob(t *testing.T) {
	hub := testHub(t)
	jobClient := hub.NewClient("job-1")
	otherClient := hub.NewClient("job-2")
	firehose := hub.NewClient("")
	defer hub.CloseClient(jobClient)
	defer hub.CloseClient(otherClient)
	defer hub.CloseClient(firehose)

	hub.Broadcast(redisclient.ProgressEvent{JobID: "job-1", Status: "processing", ChunkIndex: 3})

	select {
	case ev := <-jobClient.Outbound:
		if ev.JobID != "job-1" || ev.ChunkIndex != 3 {
			t.Fatalf("job client got %+v", ev)
		}
	default:
		t.Fatal("job client received nothing")
	}

	select {
	case ev := <-firehose.Outbound:
		if ev.JobID != "job-1" {
			t.Fatalf("firehose got %+v", ev)
		}
	default:
		t.Fatal("firehose received nothing")
	}

	select {
	case ev := <-otherClient.Outbound:
		t.Fatalf("job-2 client got %+v, want nothing", ev)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := testHub(t)
	client := hub.NewClient("job-1")
	defer hub.CloseClient(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(client.Outbound)+5; i++ {
			hub.Broadcast(redisclient.ProgressEvent{JobID: "job-1", ChunkIndex: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want %d", got, cap(client.Outbound))
	}
}

func TestCloseClientRemovesSubscription(t *testing.T) {
	hub := testHub(t)
	client := hub.NewClient("job-1")
	hub.CloseClient(client)

	hub.Broadcast(redisclient.ProgressEvent{JobID: "job-1"})
	select {
	case ev := <-client.Outbound:
		t.Fatalf("closed client got %+v", ev)
	default:
	}

	// closing twice must not panic
	hub.CloseClient(client)
}
