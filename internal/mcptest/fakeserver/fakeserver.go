// Package fakeserver is a small stdio MCP server with switchable
// misbehaviors. It is the target the compliance suite is tested against,
// both in-process over a transport.Pipe and as a real child process.
//
// The zero Config is a compliant server. Each flag breaks exactly one
// protocol rule so a test can assert that the suite notices.
package fakeserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// EnvConfig carries a JSON-encoded Config to a fake server child process.
const EnvConfig = "FAKE_MCP_CFG"

// Config selects misbehaviors.
type Config struct {
	// ExitImmediately returns before reading anything.
	ExitImmediately bool `json:"exitImmediately,omitempty"`

	// OmitProtocolVersion leaves protocolVersion out of the initialize result.
	OmitProtocolVersion bool `json:"omitProtocolVersion,omitempty"`

	// RejectInitialize answers every initialize with an internal error.
	RejectInitialize bool `json:"rejectInitialize,omitempty"`

	// AllowDoubleInit accepts a second initialize.
	AllowDoubleInit bool `json:"allowDoubleInit,omitempty"`

	// ReverseBatch answers a batch with responses in reverse order.
	ReverseBatch bool `json:"reverseBatch,omitempty"`

	// RejectBatch answers any batch with one null-id error.
	RejectBatch bool `json:"rejectBatch,omitempty"`

	// SilentMethods are read and never answered.
	SilentMethods []string `json:"silentMethods,omitempty"`

	// StringifyIDs echoes numeric ids back as strings.
	StringifyIDs bool `json:"stringifyIds,omitempty"`

	// AnswerNotifications sends a response to every notification.
	AnswerNotifications bool `json:"answerNotifications,omitempty"`

	// ExitOnInvalidJSON closes the stream on an unparseable line.
	ExitOnInvalidJSON bool `json:"exitOnInvalidJson,omitempty"`

	// NoTools, NoResources and NoPrompts drop the capability.
	NoTools     bool `json:"noTools,omitempty"`
	NoResources bool `json:"noResources,omitempty"`
	NoPrompts   bool `json:"noPrompts,omitempty"`

	// EmptyContent returns tools/call results with no content items.
	EmptyContent bool `json:"emptyContent,omitempty"`

	// InvalidParamsCode replaces -32602 in invalid-params errors.
	InvalidParamsCode int `json:"invalidParamsCode,omitempty"`

	// ToolWithoutName lists a tool declaration lacking its name.
	ToolWithoutName bool `json:"toolWithoutName,omitempty"`
}

// ConfigFromEnv decodes EnvConfig. A missing variable yields the zero Config.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	raw := os.Getenv(EnvConfig)
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", EnvConfig, err)
	}
	return cfg, nil
}

// Env renders cfg as an EnvConfig entry for a child process environment.
func (c Config) Env() string {
	data, _ := json.Marshal(c)
	return EnvConfig + "=" + string(data)
}

// ProtocolVersion is the revision the fake server reports.
const ProtocolVersion = "2025-06-18"

// ErrInvalidJSON is returned by Serve when ExitOnInvalidJSON fires.
var ErrInvalidJSON = errors.New("fakeserver: invalid JSON on input")

type server struct {
	cfg         Config
	initialized bool
	out         *bufio.Writer
}

// Serve reads newline-delimited JSON-RPC from r and answers on w until r
// ends. It matches transport.ServeFunc once cfg is bound.
func Serve(ctx context.Context, r io.Reader, w io.Writer, cfg Config) error {
	if cfg.ExitImmediately {
		return nil
	}
	s := &server{cfg: cfg, out: bufio.NewWriter(w)}

	in := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := in.ReadBytes('\n')
		if len(line) > 0 {
			if herr := s.handleLine(line); herr != nil {
				return herr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// ServeFunc binds cfg for use with transport.NewPipe.
func ServeFunc(cfg Config) func(ctx context.Context, r io.Reader, w io.Writer) error {
	return func(ctx context.Context, r io.Reader, w io.Writer) error {
		return Serve(ctx, r, w, cfg)
	}
}

func (s *server) handleLine(line []byte) error {
	msgs, batch, err := jsonrpc.DecodeLine(line)
	if err != nil {
		if s.cfg.ExitOnInvalidJSON {
			return ErrInvalidJSON
		}
		return s.write(errorResponse(jsonrpc.NullID(), jsonrpc.CodeParseError, "Parse error"))
	}
	if len(msgs) == 0 {
		if batch {
			return s.write(errorResponse(jsonrpc.NullID(), jsonrpc.CodeInvalidRequest, "Invalid Request: empty batch"))
		}
		return nil
	}

	if !batch {
		if resp := s.handle(msgs[0]); resp != nil {
			return s.write(resp)
		}
		return nil
	}

	if s.cfg.RejectBatch {
		return s.write(errorResponse(jsonrpc.NullID(), jsonrpc.CodeInvalidRequest, "Batch requests are not supported"))
	}
	var resps []*jsonrpc.Envelope
	for _, msg := range msgs {
		if resp := s.handle(msg); resp != nil {
			resps = append(resps, resp)
		}
	}
	if len(resps) == 0 {
		return nil
	}
	if s.cfg.ReverseBatch {
		slices.Reverse(resps)
	}
	data, err := jsonrpc.EncodeBatch(resps)
	if err != nil {
		return err
	}
	return s.flush(data)
}

func (s *server) handle(msg *jsonrpc.Envelope) *jsonrpc.Envelope {
	if msg.Method == "" {
		if msg.HasResult() || msg.Error != nil {
			// A reply to something we never sent
			return nil
		}
		return errorResponse(replyID(msg.ID), jsonrpc.CodeInvalidRequest, "Invalid Request: missing method")
	}
	if msg.JSONRPC != jsonrpc.Version {
		return errorResponse(replyID(msg.ID), jsonrpc.CodeInvalidRequest, "Invalid Request: jsonrpc must be \"2.0\"")
	}

	if msg.IsNotification() {
		if s.cfg.AnswerNotifications {
			return &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: jsonrpc.NullID(), Result: json.RawMessage(`{}`)}
		}
		return nil
	}
	if slices.Contains(s.cfg.SilentMethods, msg.Method) {
		return nil
	}

	id := msg.ID
	if s.cfg.StringifyIDs && id.Kind() == jsonrpc.IDNumber {
		id = jsonrpc.StringID(id.String())
	}

	result, rpcErr := s.dispatch(msg)
	if rpcErr != nil {
		return &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: id, Error: rpcErr}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, jsonrpc.CodeInternalError, err.Error())
	}
	return &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: id, Result: data}
}

func (s *server) write(env *jsonrpc.Envelope) error {
	data, err := jsonrpc.Encode(env)
	if err != nil {
		return err
	}
	return s.flush(data)
}

func (s *server) flush(line []byte) error {
	if _, err := s.out.Write(line); err != nil {
		return err
	}
	return s.out.Flush()
}

func replyID(id jsonrpc.ID) jsonrpc.ID {
	if id.IsAbsent() {
		return jsonrpc.NullID()
	}
	return id
}

func errorResponse(id jsonrpc.ID, code int, message string) *jsonrpc.Envelope {
	return &jsonrpc.Envelope{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error:   &jsonrpc.ErrorObject{Code: code, Message: message},
	}
}
