// Standalone mock upload status server for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/uploadpoll watch -c example/config.yaml abc123/cv.pdf unsafe-1/macro.docm
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock upload status server starting on :9999")
	fmt.Println("Jobs stay pending for 2-5 checks, then finish by prefix:")
	fmt.Println("  unsafe-* → 409, bad-* → 400, broken-* → 500, anything else → 202")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		jobs = make(map[string]*mockJob)
		mu   sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /envelopes/{job}/files/{file}/status", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job")
		key := jobID + "/" + r.PathValue("file")

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		job, exists := jobs[key]
		if !exists {
			job = &mockJob{pendingLeft: 2 + rand.Intn(4), status: finalStatus(jobID)}
			jobs[key] = job
		}
		status := job.status
		if job.pendingLeft > 0 {
			job.pendingLeft--
			status = http.StatusOK
		}
		mu.Unlock()

		slog.Info("status check", "job", key, "status", status)
		w.WriteHeader(status)
	})

	if err := http.ListenAndServe(":9999", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type mockJob struct {
	pendingLeft int
	status      int
}

func finalStatus(jobID string) int {
	switch {
	case strings.HasPrefix(jobID, "unsafe"):
		return http.StatusConflict
	case strings.HasPrefix(jobID, "bad"):
		return http.StatusBadRequest
	case strings.HasPrefix(jobID, "broken"):
		return http.StatusInternalServerError
	default:
		return http.StatusAccepted
	}
}
