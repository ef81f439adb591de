package rtdb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Subscribe opens a REST streaming connection (text/event-stream) against
// the database and mirrors the subtree at path locally: the server sends a
// full "put" on connect and incremental put/patch events afterwards, and fn
// receives the reassembled value after each event. The connection is
// re-established with a short backoff until ctx is done or the returned
// CancelFunc is called; every reconnect re-delivers the latest full value.
func (c *FirebaseClient) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		backoff := time.Second
		for {
			err := c.streamOnce(streamCtx, path, fn)
			if streamCtx.Err() != nil {
				return
			}
			if err != nil {
				log.Printf("⚠️  Stream for %s dropped: %v (reconnecting in %v)", path, err, backoff)
			}
			select {
			case <-time.After(backoff):
			case <-streamCtx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()

	return CancelFunc(cancel), nil
}

// streamOnce runs a single streaming connection until it fails or ctx ends.
func (c *FirebaseClient) streamOnce(ctx context.Context, path string, fn SnapshotFunc) error {
	tok, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("failed to mint stream token: %w", err)
	}

	url := fmt.Sprintf("%s/%s.json?access_token=%s",
		strings.TrimSuffix(c.databaseURL, "/"),
		strings.Trim(path, "/"),
		tok.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: stream returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var (
		root  any
		event string
	)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			next, changed, err := applyStreamEvent(root, event, payload)
			if err != nil {
				return err
			}
			root = next
			if changed {
				raw, err := json.Marshal(root)
				if err != nil {
					raw = json.RawMessage("null")
				}
				fn(raw)
			}
		}
	}
}

type streamPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// applyStreamEvent folds one server event into the mirrored value.
func applyStreamEvent(root any, event, payload string) (any, bool, error) {
	switch event {
	case "put", "patch":
	case "keep-alive":
		return root, false, nil
	case "cancel", "auth_revoked":
		return root, false, fmt.Errorf("%w: stream cancelled by server (%s)", ErrUnavailable, event)
	default:
		return root, false, nil
	}

	var sp streamPayload
	if err := json.Unmarshal([]byte(payload), &sp); err != nil {
		return root, false, fmt.Errorf("malformed stream payload: %w", err)
	}
	var data any
	if err := json.Unmarshal(sp.Data, &data); err != nil {
		return root, false, fmt.Errorf("malformed stream data: %w", err)
	}

	segs := splitPath(sp.Path)
	if event == "put" {
		return setAtPath(root, segs, data), true, nil
	}

	patch, ok := data.(map[string]any)
	if !ok {
		return root, false, fmt.Errorf("patch event carried non-object data")
	}
	for k, v := range patch {
		root = setAtPath(root, append(append([]string{}, segs...), splitPath(k)...), v)
	}
	return root, true, nil
}

// setAtPath writes value into an untyped JSON tree, creating intermediate
// objects on the way down and pruning branches emptied by a null write.
func setAtPath(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	obj, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		obj = make(map[string]any)
	}
	child := setAtPath(obj[segs[0]], segs[1:], value)
	if child == nil {
		delete(obj, segs[0])
	} else {
		obj[segs[0]] = child
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}
