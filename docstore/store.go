// Package docstore reads the realtime document database holding the voters,
// candidates and elections collections.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Collection paths.
const (
	Voters     = "voters"
	Candidates = "candidates"
	Elections  = "elections"
)

var (
	// ErrConnectivity is returned when the store cannot be reached or a
	// stream drops.
	ErrConnectivity = errors.New("document store unreachable")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("document store closed")
	// ErrSubscriptionRevoked is reported when the server cancels a stream.
	ErrSubscriptionRevoked = errors.New("subscription revoked by server")
)

// Snapshot is the value at Path at one point in time. Data is null when
// nothing is stored there.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// Exists reports whether the snapshot holds a value.
func (s Snapshot) Exists() bool {
	d := bytes.TrimSpace(s.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Decode unmarshals the snapshot into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", s.Path, err)
	}
	return nil
}

// Listener receives every new snapshot of a subscribed path, or the error
// that ended the stream. Calls for one subscription never overlap.
type Listener func(Snapshot, error)

// Subscription is a live listener registration.
type Subscription interface {
	// Close stops the stream. No listener call starts after Close returns,
	// and Close must not be called from inside the listener.
	Close() error
}

// Store is a realtime document database.
type Store interface {
	// Get reads the current value at path once.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Subscribe delivers the current value at path and then every change
	// until the subscription is closed or ctx ends.
	Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error)
}

// DecodeCollection decodes a collection snapshot into a slice. The database
// returns collections either as arrays, which may contain null holes, or as
// objects keyed by record id. Object entries come back in key order with
// numeric keys ordered numerically.
func DecodeCollection[T any](s Snapshot) ([]T, error) {
	if !s.Exists() {
		return nil, nil
	}

	data := bytes.TrimSpace(s.Data)
	var raws []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.Path, err)
		}
	case '{':
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.Path, err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
		for _, k := range keys {
			raws = append(raws, keyed[k])
		}
	default:
		return nil, fmt.Errorf("decoding %s: collection must be an array or object", s.Path)
	}

	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding %s entry %d: %w", s.Path, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func keyLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return strings.Compare(a, b) < 0
}

// normalizePath trims slashes so "/voters/", "voters" and "voters/" match.
func normalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
