package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockJob tracks how many more checks a job stays pending for.
type mockJob struct {
	pendingLeft int
	status      int
}

// outcomeFor picks the final status from the job ID prefix, so a demo can
// exercise every outcome: unsafe-*, bad-*, broken-* or anything else (ready).
func outcomeFor(jobID string) int {
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

// StartMockUploadServer runs a mock upload status endpoint at
// /envelopes/{job}/files/{file}/status. Each job answers 200 (still
// scanning) for 2-5 checks, then its final status.
// Call this in a goroutine before starting any sessions.
func StartMockUploadServer(addr string) {
	var (
		jobs = make(map[string]*mockJob)
		mu   sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /envelopes/{job}/files/{file}/status", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job")
		key := jobID + "/" + r.PathValue("file")

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		job, exists := jobs[key]
		if !exists {
			job = &mockJob{pendingLeft: 2 + rand.Intn(4), status: outcomeFor(jobID)}
			jobs[key] = job
		}

		status := job.status
		if job.pendingLeft > 0 {
			job.pendingLeft--
			status = http.StatusOK
		}
		mu.Unlock()

		if status != http.StatusOK {
			slog.Info("job finished", "job", key, "status", status)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		resp := map[string]string{
			"envelopeId": jobID,
			"status":     http.StatusText(status),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
