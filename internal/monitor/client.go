// ABOUTME: Websocket client that follows a monitor endpoint
// ABOUTME: Delivers pushed statistics snapshots over a channel
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Watcher receives snapshots from a monitor
type Watcher struct {
	conn      *websocket.Conn
	snapshots chan Snapshot

	mu  sync.Mutex
	err error
}

// URL returns the websocket URL for a monitor address
func URL(addr, path string) string {
	if path == "" {
		path = "/ws"
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	return u.String()
}

// Dial connects to a monitor websocket
func Dial(ctx context.Context, wsURL string) (*Watcher, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	w := &Watcher{
		conn:      conn,
		snapshots: make(chan Snapshot, 16),
	}
	go w.readLoop()

	log.Printf("Watching %s", wsURL)
	return w, nil
}

// Snapshots returns the channel of received snapshots; it closes when the connection ends
func (w *Watcher) Snapshots() <-chan Snapshot {
	return w.snapshots
}

// Err returns the error that ended the connection, if any
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close closes the connection
func (w *Watcher) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	w.conn.WriteMessage(websocket.CloseMessage, msg)
	return w.conn.Close()
}

func (w *Watcher) readLoop() {
	defer close(w.snapshots)

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
			}
			return
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Printf("Error unmarshaling snapshot: %v", err)
			continue
		}

		select {
		case w.snapshots <- snap:
		default:
			// drop the oldest so the newest state wins
			select {
			case <-w.snapshots:
			default:
			}
			w.snapshots <- snap
		}
	}
}

// FetchStats requests a single snapshot over HTTP
func FetchStats(ctx context.Context, addr string) (Snapshot, error) {
	u := url.URL{Scheme: "http", Host: addr, Path: "/stats"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Snapshot{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("failed to fetch stats: %s", resp.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	return snap, nil
}
