package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	sseReplayLimit       = 200
	sseKeepAliveInterval = 15 * time.Second
	sseBufferSize        = 64
)

func writeSSE(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// streamEvents replays history and then relays live events until the
// client disconnects. subscribe must register the handler and return an
// unsubscribe func; the handler feeds a buffered channel so a slow
// client never blocks the store's fan-out.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, history []T, subscribe func(handler func(T)) func()) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	for _, ev := range history {
		_ = writeSSE(w, "message", ev)
	}
	flusher.Flush()

	ch := make(chan T, sseBufferSize)
	unsubscribe := subscribe(func(ev T) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			_ = writeSSE(w, "message", ev)
			flusher.Flush()
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
