package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Memory is an in-process document store. It backs offline use of the
// client through a seed file and stands in for the realtime database in
// tests.
type Memory struct {
	root    map[string]any
	subs    map[*memorySubscription]struct{}
	offline bool
	mu      sync.RWMutex
	log     *zerolog.Logger
}

type memorySubscription struct {
	*subscription
	path   string
	notify chan struct{}
}

func NewMemory(log *zerolog.Logger) *Memory {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Memory{
		root: make(map[string]any),
		subs: make(map[*memorySubscription]struct{}),
		log:  log,
	}
}

// LoadFile replaces the whole tree with the JSON document at path. The
// document holds the voters, candidates and elections collections.
func (m *Memory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	tree, err := decodeTree(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal seed file: %w", err)
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return fmt.Errorf("seed file %s must hold a JSON object", path)
	}
	if err := validateSeed(root); err != nil {
		return fmt.Errorf("invalid seed file %s: %w", path, err)
	}

	m.mu.Lock()
	m.root = root
	m.mu.Unlock()

	m.log.Debug().Str("path", path).Msg("Loaded seed file")
	m.notify("")
	return nil
}

func validateSeed(root map[string]any) error {
	voters := make(map[string]any)
	switch t := root[Voters].(type) {
	case map[string]any:
		voters = t
	case []any:
		for i, v := range t {
			voters[strconv.Itoa(i)] = v
		}
	}

	seen := make(map[string]string, len(voters))
	for key, raw := range voters {
		voter, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id := voter["voter_id"]; id == nil || fmt.Sprint(id) == "" {
			return fmt.Errorf("voter %s: voter_id is required", key)
		}
		email, _ := voter["email"].(string)
		if email == "" {
			return fmt.Errorf("voter %s: email is required", key)
		}
		if other, dup := seen[strings.ToLower(email)]; dup {
			return fmt.Errorf("voters %s and %s share email %s", other, key, email)
		}
		seen[strings.ToLower(email)] = key
	}
	return nil
}

// Set writes value at path and notifies the affected subscribers. A nil
// value deletes the path.
func (m *Memory) Set(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	node, err := decodeTree(data)
	if err != nil {
		return err
	}

	path = normalizePath(path)
	m.mu.Lock()
	if path == "" {
		root, ok := node.(map[string]any)
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("root must be an object")
		}
		m.root = root
	} else {
		setNode(m.root, strings.Split(path, "/"), node)
	}
	m.mu.Unlock()

	m.notify(path)
	return nil
}

// SetOffline makes reads fail with ErrConnectivity. Live subscribers get
// the error, and the current value again once the store is back online.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
	m.notify("")
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(normalizePath(path))
}

func (m *Memory) snapshot(path string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.offline {
		return Snapshot{Path: path}, ErrConnectivity
	}

	var node any = m.root
	if path != "" {
		node = getNode(m.root, strings.Split(path, "/"))
	}
	data, err := json.Marshal(node)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Data: data}, nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error) {
	path = normalizePath(path)
	base, ctx := newSubscription(ctx, fn)
	sub := &memorySubscription{
		subscription: base,
		path:         path,
		notify:       make(chan struct{}, 1),
	}
	sub.notify <- struct{}{}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer func() {
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
				snap, err := m.snapshot(path)
				if !sub.deliver(snap, err) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// notify wakes every subscriber whose path overlaps the changed path.
// Wakeups coalesce, so a slow listener only sees the latest value.
func (m *Memory) notify(changed string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if overlaps(s.path, changed) {
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
	}
}

func overlaps(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// decodeTree decodes JSON into nested maps and slices. Null object members
// are dropped since the realtime database never stores nulls.
func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNode(v), nil
}

func normalizeNode(v any) any {
	switch t := v.(type) {
	case []any:
		for i, child := range t {
			t[i] = normalizeNode(child)
		}
		return t
	case map[string]any:
		for k, child := range t {
			if child == nil {
				delete(t, k)
				continue
			}
			t[k] = normalizeNode(child)
		}
		return t
	default:
		return v
	}
}

func getNode(root map[string]any, parts []string) any {
	var node any = root
	for _, p := range parts {
		switch t := node.(type) {
		case map[string]any:
			node = t[p]
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			node = t[i]
		default:
			return nil
		}
	}
	return node
}

func setNode(root map[string]any, parts []string, value any) {
	node := root
	for _, p := range parts[:len(parts)-1] {
		var child map[string]any
		switch t := node[p].(type) {
		case map[string]any:
			child = t
		case []any:
			// writing below an index turns the array into a keyed object
			child = make(map[string]any, len(t))
			for i, v := range t {
				if v != nil {
					child[strconv.Itoa(i)] = v
				}
			}
		default:
			child = make(map[string]any)
		}
		node[p] = child
		node = child
	}
	last := parts[len(parts)-1]
	if value == nil {
		delete(node, last)
		return
	}
	node[last] = value
}
