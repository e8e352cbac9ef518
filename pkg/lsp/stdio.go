package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/pkg/protocol"
)

// maxMessageSize caps a single framed message.
const maxMessageSize = 64 << 20

// ErrBadFrame is returned for malformed base-protocol headers.
var ErrBadFrame = errors.New("malformed message frame")

// ReadMessage reads one Content-Length framed message. It returns io.EOF
// when r ends cleanly between messages. A frame whose body is not valid
// JSON is consumed and reported as a *json.SyntaxError or
// *json.UnmarshalTypeError so the caller can answer with a parse error and
// continue.
func ReadMessage(r *bufio.Reader) (*protocol.Message, error) {
	header, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && len(header) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	length, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: bad Content-Length %q", ErrBadFrame, header.Get("Content-Length"))
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds limit", ErrBadFrame, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: short body: %v", ErrBadFrame, err)
	}

	var msg protocol.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// WriteMessage writes msg with a Content-Length header.
func WriteMessage(w io.Writer, msg *protocol.Message) error {
	if msg.JSONRPC == "" {
		msg.JSONRPC = protocol.Version
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Proxy runs a stdio language server: messages framed on in are written to
// t, and everything t delivers is framed onto out. shutdown and exit are
// answered locally since the HTTP side has no session to end. Proxy closes
// t and returns when in ends, exit arrives, or ctx is cancelled.
func Proxy(ctx context.Context, in io.Reader, out io.Writer, t *Transport) error {
	log := logging.WithContext(ctx)

	var mu sync.Mutex
	write := func(msg *protocol.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return WriteMessage(out, msg)
	}

	writerDone := make(chan error, 1)
	go func() {
		var werr error
		for msg := range t.Messages() {
			if werr != nil {
				continue
			}
			if err := write(msg); err != nil {
				werr = err
				log.Error("write to client failed", zap.Error(err))
			}
		}
		writerDone <- werr
	}()

	readErr := readLoop(ctx, bufio.NewReader(in), t, write)
	t.Close()
	if werr := <-writerDone; readErr == nil {
		readErr = werr
	}
	return readErr
}

func readLoop(ctx context.Context, r *bufio.Reader, t *Transport, write func(*protocol.Message) error) error {
	log := logging.WithContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				log.Warn("unparseable message from client", zap.Error(err))
				if err := write(protocol.NewError(json.RawMessage("null"), protocol.CodeParseError, err.Error())); err != nil {
					return err
				}
				continue
			}
			return err
		}

		switch msg.Method {
		case "shutdown":
			if msg.IsRequest() {
				if err := write(protocol.NewResult(msg.ID, nil)); err != nil {
					return err
				}
			}
			continue
		case "exit":
			return nil
		}

		if err := t.Write(ctx, msg); err != nil {
			return err
		}
	}
}
