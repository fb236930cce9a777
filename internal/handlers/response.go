package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ukydev/fleet-tracking/internal/tracking"
)

// SnapshotResponse is the body of every polled-source endpoint.
type SnapshotResponse struct {
	Data      interface{} `json:"data"`
	Error     string      `json:"error,omitempty"`
	IsLoading bool        `json:"isLoading"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func snapshotOf[T any](st tracking.State[T]) SnapshotResponse {
	resp := SnapshotResponse{Data: st.Data, IsLoading: st.IsLoading}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	if !st.UpdatedAt.IsZero() {
		at := st.UpdatedAt
		resp.UpdatedAt = &at
	}
	return resp
}

// awaitState waits for the first load of sub, bounded by the request and
// the handler's wait limit, then releases it.
func awaitState[T any](ctx context.Context, sub *tracking.Subscription[T], limit time.Duration) tracking.State[T] {
	defer sub.Close()
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	st, _ := sub.WaitLoaded(ctx)
	return st
}
