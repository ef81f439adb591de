package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"
)

// MemoryClient is an in-memory realtime tree. It reproduces the store's
// observable semantics — full-replace Set, child-wise Update merge, ordered
// push keys, subscriptions with an immediate initial delivery and
// latest-value-wins coalescing — without any network. Used as the test
// fixture and for STORE_BACKEND=memory local runs.
type MemoryClient struct {
	mu   sync.RWMutex
	root map[string]any

	subMu sync.Mutex
	subs  map[int]*memorySub
	nextID int

	pushMu        sync.Mutex
	lastPushTime  int64
	lastRandChars [12]int
}

type memorySub struct {
	path   string
	fn     SnapshotFunc
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMemoryClient returns an empty tree.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		root: make(map[string]any),
		subs: make(map[int]*memorySub),
	}
}

var _ Client = (*MemoryClient)(nil)

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// normalize round-trips a value through JSON so the tree holds only plain
// maps, slices and primitives regardless of the caller's Go types.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}

func (m *MemoryClient) Get(ctx context.Context, path string, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	node := treeGet(m.root, splitPath(path))
	raw, err := json.Marshal(node)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (m *MemoryClient) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	norm, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	treeSet(m.root, splitPath(path), norm)
	m.mu.Unlock()
	m.notifyPath(path)
	return nil
}

func (m *MemoryClient) Update(ctx context.Context, path string, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	norm := make(map[string]any, len(values))
	for k, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}
	m.mu.Lock()
	segs := splitPath(path)
	for k, v := range norm {
		treeSet(m.root, append(append([]string{}, segs...), splitPath(k)...), v)
	}
	m.mu.Unlock()
	m.notifyPath(path)
	return nil
}

func (m *MemoryClient) Push(ctx context.Context, path string, value any) (string, error) {
	key := m.nextPushID()
	if err := m.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *MemoryClient) Delete(ctx context.Context, path string) error {
	return m.Set(ctx, path, nil)
}

func (m *MemoryClient) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (CancelFunc, error) {
	sub := &memorySub{
		path:   strings.Trim(path, "/"),
		fn:     fn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.subMu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(sub.done)
		})
	}

	go func() {
		// Initial delivery with the current value, then one delivery per
		// wakeup. The 1-slot notify channel coalesces bursts into a
		// single read of the latest tree.
		sub.fn(m.snapshot(sub.path))
		for {
			select {
			case <-sub.notify:
				sub.fn(m.snapshot(sub.path))
			case <-sub.done:
				return
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return cancel, nil
}

func (m *MemoryClient) QueryEqual(ctx context.Context, path, child string, value any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.RLock()
	node := treeGet(m.root, splitPath(path))
	matches := make(map[string]any)
	if children, ok := node.(map[string]any); ok {
		for key, childVal := range children {
			obj, ok := childVal.(map[string]any)
			if !ok {
				continue
			}
			if reflect.DeepEqual(obj[child], want) {
				matches[key] = childVal
			}
		}
	}
	raw, err := json.Marshal(matches)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (m *MemoryClient) snapshot(path string) json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := json.Marshal(treeGet(m.root, splitPath(path)))
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

// notifyPath wakes every subscriber whose path is an ancestor or a
// descendant of the written path.
func (m *MemoryClient) notifyPath(path string) {
	written := strings.Trim(path, "/")
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		if !pathsOverlap(sub.path, written) {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
			// A wakeup is already pending; it will observe this write.
		}
	}
}

func pathsOverlap(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func treeGet(root map[string]any, segs []string) any {
	var node any = root
	for _, seg := range segs {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = obj[seg]
	}
	return node
}

// treeSet writes value at the path, creating intermediate maps on the way
// down and pruning newly empty branches when value is nil.
func treeSet(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		if obj, ok := value.(map[string]any); ok {
			for k, v := range obj {
				root[k] = v
			}
		}
		return
	}

	node := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			next = make(map[string]any)
			node[seg] = next
		}
		node = next
	}

	last := segs[len(segs)-1]
	if value == nil {
		delete(node, last)
	} else {
		node[last] = value
	}
}

// Push keys follow the well-known 20-character scheme: 8 characters of
// timestamp followed by 12 random characters, incremented when two pushes
// land in the same millisecond so that keys always sort in creation order.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

func (m *MemoryClient) nextPushID() string {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	now := time.Now().UnixMilli()
	duplicate := now == m.lastPushTime
	m.lastPushTime = now

	var ts [8]byte
	for i := 7; i >= 0; i-- {
		ts[i] = pushChars[now%64]
		now /= 64
	}

	if duplicate {
		for i := 11; i >= 0; i-- {
			if m.lastRandChars[i] != 63 {
				m.lastRandChars[i]++
				break
			}
			m.lastRandChars[i] = 0
		}
	} else {
		for i := range m.lastRandChars {
			m.lastRandChars[i] = rand.Intn(64)
		}
	}

	var sb strings.Builder
	sb.Write(ts[:])
	for _, c := range m.lastRandChars {
		sb.WriteByte(pushChars[c])
	}
	return sb.String()
}
