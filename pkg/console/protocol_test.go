package console

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
)

func TestParseRequest_ValidRequest(t *testing.T) {
	data := []byte(`{"id": 1, "op": " stop ", "force": true}`)

	req, err := ParseRequest(data)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Op != "stop" {
		t.Errorf("Op = %q, want 'stop'", req.Op)
	}
	if req.ID != float64(1) {
		t.Errorf("ID = %v, want 1", req.ID)
	}
	if string(req.Params) != string(data) {
		t.Errorf("Params = %s, want the full line", string(req.Params))
	}
}

func TestParseRequest_InvalidJSON(t *testing.T) {
	req, err := ParseRequest([]byte(`{invalid json`))
	if err == nil {
		t.Fatal("ParseRequest() expected error for invalid JSON, got nil")
	}
	if req != nil {
		t.Error("ParseRequest() expected nil request for invalid JSON")
	}
	if err.Tag != TagParse {
		t.Errorf("Error tag = %s, want %s", err.Tag, TagParse)
	}
}

func TestParseRequest_MissingOpKeepsID(t *testing.T) {
	req, err := ParseRequest([]byte(`{"id": "x"}`))
	if err == nil {
		t.Fatal("ParseRequest() expected error for missing op, got nil")
	}
	if err.Tag != TagInvalidRequest {
		t.Errorf("Error tag = %s, want %s", err.Tag, TagInvalidRequest)
	}
	if req == nil || req.ID != "x" {
		t.Errorf("expected the id to survive for the error response, got %+v", req)
	}
}

func TestOpRegistry_Dispatch(t *testing.T) {
	r := NewOpRegistry()
	r.RegisterOp("ping", func(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
		return "pong", nil
	})
	r.RegisterOp("fail", func(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
		return nil, NewError("internal", "boom")
	})

	result, err := r.Dispatch(context.Background(), "ping", nil)
	if err != nil || result != "pong" {
		t.Errorf("Dispatch(ping) = %v, %v", result, err)
	}

	_, err = r.Dispatch(context.Background(), "fail", nil)
	if err == nil || err.Message != "boom" {
		t.Errorf("Dispatch(fail) error = %v", err)
	}

	_, err = r.Dispatch(context.Background(), "missing", nil)
	if err == nil || err.Tag != TagUnknownOp {
		t.Errorf("Dispatch(missing) error = %v, want %s", err, TagUnknownOp)
	}

	ops := r.Ops()
	sort.Strings(ops)
	if len(ops) != 2 || ops[0] != "fail" || ops[1] != "ping" {
		t.Errorf("Ops() = %v", ops)
	}
}

func TestNewResponse(t *testing.T) {
	resp := newResponse(5, "status", map[string]string{"phase": "stopped"}, nil)
	if !resp.OK || resp.Error != nil {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	if string(resp.Result) != `{"phase":"stopped"}` {
		t.Errorf("Result = %s", resp.Result)
	}

	resp = newResponse(5, "status", func() {}, nil)
	if resp.OK || resp.Error == nil {
		t.Fatalf("expected encode failure for a func result, got %+v", resp)
	}

	resp = newResponse(nil, "stop", nil, NewError("players_online", "players online: alice"))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"op":"stop","ok":false,"error":{"tag":"players_online","message":"players online: alice"}}`
	if string(data) != want {
		t.Errorf("encoded = %s, want %s", data, want)
	}
}
