// Package console serves the operator console: newline-delimited JSON
// requests in, one JSON response per request out.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/worldkeeper/worldkeeper/pkg/chatlog"
	"github.com/worldkeeper/worldkeeper/pkg/git"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
	"github.com/worldkeeper/worldkeeper/pkg/log"
	"github.com/worldkeeper/worldkeeper/pkg/rcon"
	"github.com/worldkeeper/worldkeeper/pkg/runtime/docker"
)

// maxLine bounds a single request line.
const maxLine = 1 << 20

// Controller is the lifecycle surface the console drives.
type Controller interface {
	Start(ctx context.Context) (docker.ContainerState, error)
	Stop(ctx context.Context, force bool) error
	Restart(ctx context.Context) (docker.ContainerState, error)
	Save(ctx context.Context) (git.SaveResult, error)
	Status(ctx context.Context) lifecycle.Status
	Info(ctx context.Context) lifecycle.Info
	Phase() lifecycle.Phase
}

// Commander sends raw and chat commands to the running server.
type Commander interface {
	SendCommand(ctx context.Context, command string) (string, error)
	Say(ctx context.Context, message string) (string, error)
	Tell(ctx context.Context, target, message string) (string, error)
}

// Config configures a Console.
type Config struct {
	// WorkDir is the server working directory, read for chat history.
	WorkDir string
	// AuditFile, when set, receives one NDJSON record per handled request.
	AuditFile string
	// Now is the clock used for audit records.
	Now func() time.Time
}

// Console dispatches requests to the controller.
type Console struct {
	ctrl     Controller
	cmd      Commander
	cfg      Config
	registry *OpRegistry
	audit    *ndjsonWriter
}

type auditEntry struct {
	TS    string      `json:"ts"`
	ID    interface{} `json:"id,omitempty"`
	Op    string      `json:"op"`
	OK    bool        `json:"ok"`
	Tag   string      `json:"tag,omitempty"`
	Phase string      `json:"phase,omitempty"`
}

// New creates a console bound to ctrl and cmd.
func New(ctrl Controller, cmd Commander, cfg Config) (*Console, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Console{
		ctrl:     ctrl,
		cmd:      cmd,
		cfg:      cfg,
		registry: NewOpRegistry(),
	}
	if cfg.AuditFile != "" {
		w, err := openNDJSONFile(cfg.AuditFile)
		if err != nil {
			return nil, err
		}
		c.audit = w
	}
	c.registerOps()
	return c, nil
}

// Close releases the audit file.
func (c *Console) Close() error {
	if c.audit == nil {
		return nil
	}
	return c.audit.Close()
}

func (c *Console) registerOps() {
	c.registry.RegisterOp("start", c.handleStart)
	c.registry.RegisterOp("stop", c.handleStop)
	c.registry.RegisterOp("restart", c.handleRestart)
	c.registry.RegisterOp("status", c.handleStatus)
	c.registry.RegisterOp("info", c.handleInfo)
	c.registry.RegisterOp("save", c.handleSave)
	c.registry.RegisterOp("say", c.handleSay)
	c.registry.RegisterOp("cmd", c.handleCmd)
	c.registry.RegisterOp("chat-history", c.handleChatHistory)
}

// Serve reads requests from r until EOF or ctx is done and writes responses
// to w. Requests are handled one at a time in arrival order.
func (c *Console) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	out := newNDJSONWriter(w)
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read console input: %w", err)
					}
				default:
				}
				return nil
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			if err := out.Write(c.Handle(ctx, line)); err != nil {
				return err
			}
		}
	}
}

// Handle processes one request line.
func (c *Console) Handle(ctx context.Context, line []byte) Response {
	req, perr := ParseRequest(line)
	if perr != nil {
		var id interface{}
		if req != nil {
			id = req.ID
		}
		return newResponse(id, "", nil, perr)
	}

	log.Debug("console request", "op", req.Op, "id", req.ID)
	result, opErr := c.registry.Dispatch(ctx, req.Op, req.Params)
	resp := newResponse(req.ID, req.Op, result, opErr)
	c.record(resp)
	return resp
}

func (c *Console) record(resp Response) {
	if c.audit == nil {
		return
	}
	entry := auditEntry{
		TS: c.cfg.Now().UTC().Format(time.RFC3339),
		ID: resp.ID,
		Op: resp.Op,
		OK: resp.OK,
	}
	if resp.Error != nil {
		entry.Tag = resp.Error.Tag
		entry.Phase = resp.Error.Phase
	}
	if err := c.audit.Write(entry); err != nil {
		log.Warn("failed to write console audit entry", "error", err)
	}
}

// opError converts an operation failure into its console error.
func (c *Console) opError(err error) *Error {
	e := &Error{Tag: lifecycle.Tag(err), Message: err.Error()}
	var rej *lifecycle.Rejection
	if errors.As(err, &rej) {
		e.Phase = string(rej.Phase)
	} else {
		e.Phase = string(c.ctrl.Phase())
	}
	return e
}

func (c *Console) handleStart(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	state, err := c.ctrl.Start(ctx)
	if err != nil {
		return nil, c.opError(err)
	}
	return state, nil
}

func (c *Console) handleStop(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Force bool `json:"force"`
	}
	if perr := decodeParams(params, &p); perr != nil {
		return nil, perr
	}
	if err := c.ctrl.Stop(ctx, p.Force); err != nil {
		return nil, c.opError(err)
	}
	return c.ctrl.Status(ctx), nil
}

func (c *Console) handleRestart(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	state, err := c.ctrl.Restart(ctx)
	if err != nil {
		return nil, c.opError(err)
	}
	return state, nil
}

func (c *Console) handleStatus(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	return c.ctrl.Status(ctx), nil
}

func (c *Console) handleInfo(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	return c.ctrl.Info(ctx), nil
}

func (c *Console) handleSave(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	res, err := c.ctrl.Save(ctx)
	if err != nil {
		return nil, c.opError(err)
	}
	return res, nil
}

func (c *Console) handleSay(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Message string `json:"message"`
		Target  string `json:"target"`
	}
	if perr := decodeParams(params, &p); perr != nil {
		return nil, perr
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, NewError(TagInvalidRequest, "message is required")
	}
	var (
		reply string
		err   error
	)
	if p.Target != "" {
		reply, err = c.cmd.Tell(ctx, p.Target, p.Message)
	} else {
		reply, err = c.cmd.Say(ctx, p.Message)
	}
	if err != nil {
		return nil, c.commandError(err)
	}
	return map[string]string{"reply": reply}, nil
}

func (c *Console) handleCmd(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Command string `json:"command"`
	}
	if perr := decodeParams(params, &p); perr != nil {
		return nil, perr
	}
	reply, err := c.cmd.SendCommand(ctx, p.Command)
	if err != nil {
		return nil, c.commandError(err)
	}
	return map[string]string{"reply": reply}, nil
}

func (c *Console) commandError(err error) *Error {
	if errors.Is(err, rcon.ErrInvalidCommand) {
		return NewError(TagInvalidRequest, err.Error())
	}
	return c.opError(err)
}

func (c *Console) handleChatHistory(_ context.Context, params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Lines int `json:"lines"`
	}
	if perr := decodeParams(params, &p); perr != nil {
		return nil, perr
	}
	if p.Lines == 0 {
		p.Lines = chatlog.DefaultLines
	}
	history, err := chatlog.Read(c.cfg.WorkDir, p.Lines)
	if err != nil {
		return nil, NewError(lifecycle.TagInternal, err.Error())
	}
	return history, nil
}
