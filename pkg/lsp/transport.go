// Package lsp carries language server JSON-RPC messages over one-shot HTTP
// calls.
//
// Each outbound request becomes POST {base}/api/lsp/{method} with the
// request params as body. The HTTP response is turned into a response
// message with the request's id and queued on an inbound channel. The
// server has no notion of notifications, so outbound notifications and
// responses are dropped.
package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/metrics"
	"github.com/shatterbird/birdfs/pkg/protocol"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("lsp transport closed")

// Callback receives inbound messages.
type Callback func(*protocol.Message)

// Config holds transport configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// MaxInflight bounds concurrent HTTP calls; Write blocks beyond it.
	MaxInflight int
	// Buffer is the inbound channel capacity.
	Buffer int
}

// Transport is a duplex message channel over HTTP. Write is the producer
// side; Messages or Listen is the consumer side. Inbound messages must be
// drained or in-flight calls block and Close never returns.
type Transport struct {
	baseURL    string
	httpClient *http.Client

	sem     chan struct{}
	inbound chan *protocol.Message
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	callback   atomic.Pointer[Callback]
	listenMu   sync.Mutex
	listening  bool
	listenDone chan struct{}

	dropped atomic.Int64
}

// New creates a transport.
func New(cfg Config) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 8
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		sem:        make(chan struct{}, cfg.MaxInflight),
		inbound:    make(chan *protocol.Message, cfg.Buffer),
		listenDone: make(chan struct{}),
	}
}

// Messages returns the inbound message channel. It is closed by Close once
// every in-flight call has delivered its response.
func (t *Transport) Messages() <-chan *protocol.Message {
	return t.inbound
}

// Listen delivers inbound messages to cb from a single goroutine. Calling
// Listen again replaces the callback. Do not read Messages when using
// Listen.
func (t *Transport) Listen(cb Callback) {
	t.callback.Store(&cb)

	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	if t.listening {
		return
	}
	t.listening = true
	go func() {
		defer close(t.listenDone)
		for msg := range t.inbound {
			if cb := t.callback.Load(); cb != nil {
				(*cb)(msg)
			}
		}
	}()
}

// Dropped returns how many outbound messages were not forwarded.
func (t *Transport) Dropped() int64 {
	return t.dropped.Load()
}

// Write sends msg. Requests are dispatched asynchronously and their
// response arrives on the inbound side, including failures, which arrive as
// error responses. Other message kinds are dropped. Write blocks while the
// maximum number of calls is in flight.
func (t *Transport) Write(ctx context.Context, msg *protocol.Message) error {
	kind := msg.Kind()
	if !msg.IsRequest() {
		t.dropped.Add(1)
		metrics.RecordLSPMessage("dropped", kind)
		logging.WithContext(ctx).Debug("dropping outbound message",
			zap.String("kind", kind), zap.String("method", msg.Method))
		return nil
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.RUnlock()

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		t.wg.Done()
		return ctx.Err()
	}

	metrics.RecordLSPMessage("outbound", kind)
	metrics.AddLSPInflight(1)
	go func() {
		defer t.wg.Done()
		resp := t.call(ctx, msg)
		<-t.sem
		metrics.AddLSPInflight(-1)
		metrics.RecordLSPMessage("inbound", resp.Kind())
		t.inbound <- resp
	}()
	return nil
}

// Close stops accepting writes, waits for in-flight calls to deliver their
// responses, then closes the inbound channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	close(t.inbound)
	return nil
}

// Wait blocks until a Listen callback has seen every message delivered
// before Close. If Listen has not been called yet it returns at once, and a
// later Listen still starts delivery.
func (t *Transport) Wait() {
	t.listenMu.Lock()
	listening := t.listening
	t.listenMu.Unlock()
	if listening {
		<-t.listenDone
	}
}

// call performs one HTTP round trip and always returns a response message.
func (t *Transport) call(ctx context.Context, msg *protocol.Message) *protocol.Message {
	log := logging.WithContext(ctx)
	start := time.Now()
	defer func() { metrics.RecordLSPCall(msg.Method, time.Since(start)) }()

	body := []byte(msg.Params)
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("null")
	}

	url := t.baseURL + protocol.LSPMethod(msg.Method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return protocol.NewError(msg.ID, protocol.CodeInternalError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.NewError(msg.ID, protocol.CodeRequestCancelled, "request cancelled")
		}
		log.Warn("lsp call failed", zap.String("method", msg.Method), zap.Error(err))
		return protocol.NewError(msg.ID, protocol.CodeInternalError, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	log.Debug("lsp call",
		zap.String("method", msg.Method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		return protocol.NewError(msg.ID, protocol.CodeInternalError, fmt.Sprintf("read response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return protocol.NewError(msg.ID, protocol.CodeMethodNotFound, "method not found: "+msg.Method)
	case resp.StatusCode == http.StatusBadRequest:
		return protocol.NewError(msg.ID, protocol.CodeInvalidParams, errorText(resp.StatusCode, data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return protocol.NewError(msg.ID, protocol.CodeInternalError, errorText(resp.StatusCode, data))
	}
	return decodeResult(msg.ID, data)
}

var envelopeKeys = map[string]bool{"jsonrpc": true, "id": true, "result": true, "error": true}

// decodeResult turns a 2xx body into a response. A body that is itself a
// response envelope ({"result": ...} or {"error": ...}) is unwrapped; any
// other JSON value is the result.
func decodeResult(id json.RawMessage, data []byte) *protocol.Message {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return protocol.NewResult(id, nil)
	}
	if !json.Valid(data) {
		return protocol.NewError(id, protocol.CodeParseError, "invalid JSON in response")
	}

	if data[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err == nil && isEnvelope(fields) {
			if raw, ok := fields["error"]; ok && !bytes.Equal(raw, []byte("null")) {
				var rerr protocol.ResponseError
				if err := json.Unmarshal(raw, &rerr); err != nil {
					return protocol.NewError(id, protocol.CodeParseError, "invalid error object in response")
				}
				return &protocol.Message{JSONRPC: protocol.Version, ID: id, Error: &rerr}
			}
			return protocol.NewResult(id, fields["result"])
		}
	}
	return protocol.NewResult(id, json.RawMessage(data))
}

func isEnvelope(fields map[string]json.RawMessage) bool {
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	if !hasResult && !hasError {
		return false
	}
	for k := range fields {
		if !envelopeKeys[k] {
			return false
		}
	}
	return true
}

func errorText(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return fmt.Sprintf("server returned %d", status)
	}
	return fmt.Sprintf("server returned %d: %s", status, text)
}
