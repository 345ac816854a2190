package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/uploadpoll"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockUploadServer(":9999")
	time.Sleep(100 * time.Millisecond)

	p, err := uploadpoll.New("http://localhost:9999/envelopes/{{.JobID}}/files/{{.FileID}}/status",
		uploadpoll.WithInterval(time.Second),
		uploadpoll.WithMaxAttempts(10),
		uploadpoll.WithTransportErrorPolicy(uploadpoll.TransportErrorRetry),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	d, err := uploadpoll.NewDestinations(
		"/envelopes/{{.JobID}}/files/{{.FileID}}",
		"/envelopes/{{.JobID}}/files/{{.FileID}}/unsafe",
		"/envelopes/{{.JobID}}/error",
	)
	if err != nil {
		slog.Error("failed to create destinations", "error", err)
		os.Exit(1)
	}

	tracker, err := uploadpoll.NewTracker(p,
		uploadpoll.WithDestinations(d),
		uploadpoll.WithPort(8080),
		uploadpoll.WithOutcomeCallback(func(r uploadpoll.Result) {
			fmt.Printf("  %-24s %-20s after %d checks\n", r.Job, r.Outcome, r.Attempts)
		}),
	)
	if err != nil {
		slog.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// one job per outcome the mock server can produce
	for _, job := range []uploadpoll.JobRef{
		{ID: "abc123", FileID: "passport.pdf"},
		{ID: "unsafe-1", FileID: "invoice.docm"},
		{ID: "bad-1", FileID: "empty.txt"},
		{ID: "broken-1", FileID: "photo.jpg"},
	} {
		if _, err := tracker.Track(ctx, job); err != nil {
			slog.Error("failed to track job", "job", job.String(), "error", err)
		}
	}

	fmt.Println()
	fmt.Println("  uploadpoll demo")
	fmt.Println()
	fmt.Println("  Sessions:  curl http://localhost:8080/api/sessions")
	fmt.Println("  Live:      curl -N http://localhost:8080/api/sse")
	fmt.Println("  Redirect:  curl -i 'http://localhost:8080/uploads/xyz/wait?file_id=cv.pdf'")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := tracker.Start(ctx); err != nil {
		slog.Error("tracker error", "error", err)
		os.Exit(1)
	}
}
