package docstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voting-client/retry"
)

const (
	firebaseDefaultTimeout = 10 * time.Second
	firebaseMaxEvent       = 16 << 20
	firebaseMaxBackoff     = 30 * time.Second
	firebaseMaxBackoffExp  = 8
)

// FirebaseOptions tune a Firebase store. Zero values pick the defaults.
type FirebaseOptions struct {
	// Auth is appended as the auth query parameter: a database secret or a
	// user ID token.
	Auth       string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *zerolog.Logger
}

// Firebase reads a Firebase Realtime Database through its REST API and
// follows changes with the REST streaming protocol (server-sent events).
type Firebase struct {
	baseURL    *url.URL
	auth       string
	http       *http.Client
	stream     *http.Client
	maxRetries int
	backoff    time.Duration
	log        *zerolog.Logger
}

func NewFirebase(databaseURL string, opts FirebaseOptions) (*Firebase, error) {
	u, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid database url %q: scheme must be http or https", databaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	f := &Firebase{
		baseURL:    u,
		auth:       opts.Auth,
		http:       opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		log:        opts.Logger,
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = firebaseDefaultTimeout
	}
	if f.http == nil {
		f.http = &http.Client{Timeout: timeout}
	}
	// streams stay open indefinitely, so they only share the transport
	f.stream = &http.Client{Transport: f.http.Transport}
	if f.maxRetries < 0 {
		f.maxRetries = 0
	}
	if f.backoff <= 0 {
		f.backoff = 250 * time.Millisecond
	}
	if f.log == nil {
		nop := zerolog.Nop()
		f.log = &nop
	}
	return f, nil
}

func (f *Firebase) endpoint(path string) string {
	u := *f.baseURL
	u.Path = u.Path + "/" + normalizePath(path) + ".json"
	if f.auth != "" {
		q := u.Query()
		q.Set("auth", f.auth)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (f *Firebase) Get(ctx context.Context, path string) (Snapshot, error) {
	path = normalizePath(path)
	var lastErr error
	for attempt := 0; ; attempt++ {
		snap, err := f.getOnce(ctx, path)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		if !errors.Is(err, ErrConnectivity) || attempt >= f.maxRetries {
			return Snapshot{}, lastErr
		}

		wait := f.retryDelay(attempt + 1)
		f.log.Debug().Err(err).Str("path", path).Dur("wait", wait).Msg("Retrying document read")
		if err := retry.Sleep(ctx, wait); err != nil {
			return Snapshot{}, err
		}
	}
}

func (f *Firebase) getOnce(ctx context.Context, path string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint(path), nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, firebaseMaxEvent))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return Snapshot{}, fmt.Errorf("%w: %s returned %d: %s", ErrConnectivity, path, resp.StatusCode, firebaseError(body))
	case resp.StatusCode != http.StatusOK:
		return Snapshot{}, fmt.Errorf("reading %s: status %d: %s", path, resp.StatusCode, firebaseError(body))
	}
	return Snapshot{Path: path, Data: body}, nil
}

func firebaseError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// retryDelay is the backoff before retry number failures.
func (f *Firebase) retryDelay(failures int) time.Duration {
	return min(retry.Backoff(f.backoff, uint64(failures), firebaseMaxBackoffExp), firebaseMaxBackoff)
}

// Subscribe streams path. A dropped stream is reported to fn as
// ErrConnectivity and reopened with backoff; the server replays the full
// value on every reconnect.
func (f *Firebase) Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error) {
	path = normalizePath(path)
	sub, ctx := newSubscription(ctx, fn)

	go func() {
		defer close(sub.done)
		failures := 0
		for {
			delivered, err := f.streamOnce(ctx, path, sub)
			if ctx.Err() != nil {
				return
			}
			if delivered {
				failures = 0
			}
			failures++
			if !sub.deliver(Snapshot{Path: path}, err) {
				return
			}
			if errors.Is(err, ErrSubscriptionRevoked) {
				return
			}

			wait := f.retryDelay(failures)
			f.log.Warn().Err(err).Str("path", path).Dur("wait", wait).Msg("Document stream dropped, reconnecting")
			if retry.Sleep(ctx, wait) != nil {
				return
			}
		}
	}()
	return sub, nil
}

type streamEvent struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// streamOnce runs one streaming connection until it fails. It reports whether
// any snapshot was delivered.
func (f *Firebase) streamOnce(ctx context.Context, path string, sub *subscription) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint(path), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := f.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("%w: stream %s returned %d: %s", ErrConnectivity, path, resp.StatusCode, firebaseError(body))
	}

	var (
		tree      any
		delivered bool
		event     string
		data      bytes.Buffer
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), firebaseMaxEvent)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "" {
				continue
			}
			changed, err := applyEvent(&tree, event, data.Bytes())
			event = ""
			data.Reset()
			if err != nil {
				return delivered, err
			}
			if !changed {
				continue
			}
			raw, err := json.Marshal(tree)
			if err != nil {
				return delivered, err
			}
			if !sub.deliver(Snapshot{Path: path, Data: raw}, nil) {
				return delivered, nil
			}
			delivered = true
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return delivered, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return delivered, fmt.Errorf("%w: stream closed by server", ErrConnectivity)
}

// applyEvent folds one stream event into tree and reports whether the value
// changed.
func applyEvent(tree *any, event string, payload []byte) (bool, error) {
	switch event {
	case "keep-alive":
		return false, nil
	case "cancel", "auth_revoked":
		return false, ErrSubscriptionRevoked
	case "put", "patch":
	default:
		return false, nil
	}

	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false, fmt.Errorf("%w: bad %s event: %v", ErrConnectivity, event, err)
	}
	value, err := decodeTree(ev.Data)
	if err != nil {
		return false, fmt.Errorf("%w: bad %s payload: %v", ErrConnectivity, event, err)
	}

	if event == "put" {
		*tree = putNode(*tree, normalizePath(ev.Path), value)
		return true, nil
	}

	fields, ok := value.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%w: patch payload is not an object", ErrConnectivity)
	}
	base := normalizePath(ev.Path)
	for k, v := range fields {
		key := k
		if base != "" {
			key = base + "/" + k
		}
		*tree = putNode(*tree, key, v)
	}
	return true, nil
}

func putNode(tree any, path string, value any) any {
	if path == "" {
		return value
	}
	root, ok := tree.(map[string]any)
	if !ok {
		root = make(map[string]any)
		if arr, isArr := tree.([]any); isArr {
			for i, v := range arr {
				if v != nil {
					root[fmt.Sprint(i)] = v
				}
			}
		}
	}
	setNode(root, strings.Split(path, "/"), value)
	return root
}
