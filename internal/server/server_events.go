package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jdholdren/brief/internal/brief"
	brerrs "github.com/jdholdren/brief/internal/errors"
)

type EventResp struct {
	Kind     string             `json:"kind"`
	FeedID   string             `json:"feed_id,omitempty"`
	Inserted *int               `json:"inserted,omitempty"`
	Status   brief.StatusChange `json:"status,omitempty"`
	Entries  []int64            `json:"entries,omitempty"`
	Feeds    []string           `json:"feeds,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func apiEvent(ev brief.Event) EventResp {
	resp := EventResp{
		Kind:   ev.Kind.String(),
		FeedID: ev.FeedID,
		Status: ev.Status,
	}
	switch ev.Kind {
	case brief.EventFeedUpdated:
		n := ev.Inserted
		resp.Inserted = &n
	case brief.EventEntryStatusChanged:
		resp.Entries = ev.Changed.Entries
		resp.Feeds = ev.Changed.Feeds
	case brief.EventFeedError:
		if ev.Err != nil {
			resp.Error = ev.Err.Error()
		}
	}

	return resp
}

// getEvents streams notifications as server-sent events until the client
// goes away.
func (s Server) getEvents(w http.ResponseWriter, r *http.Request) error {
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		return brerrs.E(fmt.Errorf("streaming not supported: %w", err), http.StatusInternalServerError)
	}

	events, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil
	}

	for {
		select {
		case <-r.Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			byts, err := json.Marshal(apiEvent(ev))
			if err != nil {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, byts); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		}
	}
}
