package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jbdamask/mcpchat/pkg/mcp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	names    []string
	listErr  error
	closeErr error
	invoked  []string
	closed   atomic.Int32
}

func (f *fakeConn) ListCapabilities(ctx context.Context) ([]mcp.Capability, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	caps := make([]mcp.Capability, len(f.names))
	for i, n := range f.names {
		caps[i] = mcp.Capability{Backend: "ignored", Name: n, InputSchema: json.RawMessage(`{"type":"object"}`)}
	}
	return caps, nil
}

func (f *fakeConn) Invoke(ctx context.Context, name string, arguments json.RawMessage) (*mcp.Result, error) {
	f.invoked = append(f.invoked, name+" "+string(arguments))
	return &mcp.Result{Content: []mcp.Content{{Type: "text", Text: "ok:" + name}}}, nil
}

func (f *fakeConn) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	calc := &fakeConn{names: []string{"sub", "add"}}
	require.NoError(t, reg.Register(context.Background(), "calc", calc))
	require.NoError(t, reg.Register(context.Background(), "web", &fakeConn{names: []string{"fetch:url"}}))

	var names []string
	for _, c := range reg.AllCapabilities() {
		names = append(names, c.QualifiedName())
	}
	assert.Equal(t, []string{"calc:add", "calc:sub", "web:fetch:url"}, names)

	for range 3 {
		backend, name, err := reg.Resolve("calc:add")
		require.NoError(t, err)
		assert.Equal(t, "calc", backend)
		assert.Equal(t, "add", name)
	}

	backend, name, err := reg.Resolve("web:fetch:url")
	require.NoError(t, err)
	assert.Equal(t, "web", backend)
	assert.Equal(t, "fetch:url", name)
}

func TestResolveUnknown(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(context.Background(), "calc", &fakeConn{names: []string{"add"}}))

	for _, q := range []string{"unknown:op", "calc:mul", "calc", ":add", "calc:", ""} {
		_, _, err := reg.Resolve(q)
		assert.ErrorIs(t, err, ErrUnknownCapability, q)
	}
}

func TestInvokeUnknownDoesNotDispatch(t *testing.T) {
	reg := NewRegistry()
	calc := &fakeConn{names: []string{"add"}}
	require.NoError(t, reg.Register(context.Background(), "calc", calc))

	_, err := reg.Invoke(context.Background(), "unknown:op", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownCapability)
	assert.Empty(t, calc.invoked)

	result, err := reg.Invoke(context.Background(), "calc:add", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "ok:add", result.Text())
	assert.Equal(t, []string{`add {"a":1}`}, calc.invoked)
}

func TestRegisterRejects(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(context.Background(), "calc", &fakeConn{names: []string{"add"}}))

	err := reg.Register(context.Background(), "calc", &fakeConn{names: []string{"mul"}})
	assert.ErrorIs(t, err, ErrDuplicateBackend)

	err = reg.Register(context.Background(), "dup", &fakeConn{names: []string{"x", "x"}})
	assert.ErrorIs(t, err, ErrDuplicateCapability)

	assert.Error(t, reg.Register(context.Background(), "", &fakeConn{}))
	assert.Error(t, reg.Register(context.Background(), "a:b", &fakeConn{}))

	listErr := errors.New("list failed")
	assert.ErrorIs(t, reg.Register(context.Background(), "broken", &fakeConn{listErr: listErr}), listErr)

	// Rejected registrations leave the catalog untouched.
	require.Len(t, reg.AllCapabilities(), 1)
	_, _, err = reg.Resolve("calc:add")
	assert.NoError(t, err)
	_, _, err = reg.Resolve("dup:x")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestUnregisterAndClose(t *testing.T) {
	reg := NewRegistry()
	a := &fakeConn{names: []string{"one"}}
	b := &fakeConn{names: []string{"two"}, closeErr: errors.New("close b")}
	require.NoError(t, reg.Register(context.Background(), "a", a))
	require.NoError(t, reg.Register(context.Background(), "b", b))

	require.NoError(t, reg.Unregister("a"))
	assert.EqualValues(t, 1, a.closed.Load())
	_, _, err := reg.Resolve("a:one")
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.Error(t, reg.Unregister("a"))

	err = reg.Close()
	assert.ErrorContains(t, err, "close b")
	assert.EqualValues(t, 1, b.closed.Load())
	assert.Empty(t, reg.AllCapabilities())
}

func TestConnectAll(t *testing.T) {
	reg := NewRegistry()
	good := &fakeConn{names: []string{"add"}}
	clash := &fakeConn{names: []string{"y", "y"}}
	down := errors.New("spawn failed")

	servers := &mcp.MCPConfig{MCPServers: map[string]mcp.ServerConfig{
		"calc":     {Command: "calc"},
		"down":     {Command: "down"},
		"clash":    {Command: "clash"},
		"disabled": {Command: "off", Disabled: true},
	}}
	open := func(ctx context.Context, id string, config mcp.ServerConfig) (Connection, error) {
		switch id {
		case "calc":
			return good, nil
		case "clash":
			return clash, nil
		case "disabled":
			t.Errorf("disabled server opened")
		}
		return nil, down
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := ConnectAll(context.Background(), reg, servers, open, logger)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, clash.closed.Load())

	statuses := reg.Backends()
	require.Len(t, statuses, 3)
	assert.Equal(t, "calc", statuses[0].ID)
	assert.True(t, statuses[0].Connected)
	assert.Equal(t, 1, statuses[0].Capabilities)
	assert.Equal(t, "clash", statuses[1].ID)
	assert.ErrorIs(t, statuses[1].Err, ErrDuplicateCapability)
	assert.Equal(t, "down", statuses[2].ID)
	assert.ErrorIs(t, statuses[2].Err, down)

	require.NoError(t, reg.Close())
}

func TestDescribe(t *testing.T) {
	out := Describe([]mcp.Capability{
		{Backend: "calc", Name: "add", Description: "Add numbers.\nMore detail."},
		{Backend: "calc", Name: "nop"},
	})
	assert.Equal(t, "calc:add - Add numbers.\ncalc:nop\n", out)
}
