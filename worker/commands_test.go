package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/task"
)

func TestCommandsHaveHandlers(t *testing.T) {
	_, port := rpc.Pipe()
	srv := NewServer(port, Options{})
	t.Cleanup(func() { srv.Close(context.Background()) })
	s := newSession(srv, DocParams{DocID: "doc"})
	t.Cleanup(s.handler.Destroy)

	seen := map[string]bool{}
	for _, c := range allCommands {
		name := c.String()
		require.NotEmpty(t, name, "command %d has no name", int(c))
		assert.False(t, seen[name], "duplicate command name %s", name)
		seen[name] = true

		h := s.handlerFor(c)
		assert.True(t, (h.request == nil) != (h.stream == nil), "%s needs exactly one handler", name)
	}
	assert.Len(t, seen, int(numCommands))
	assert.Equal(t, "Command(99)", Command(99).String())
	assert.True(t, s.handlerFor(CmdTerminate).final)
	assert.NotNil(t, s.handlerFor(CmdGetOperatorList).stream)
	assert.NotNil(t, s.handlerFor(CmdGetTextContent).stream)
	assert.Panics(t, func() { s.handlerFor(numCommands) })
}

func TestQueriesBeforeOpen(t *testing.T) {
	_, port := rpc.Pipe()
	srv := NewServer(port, Options{})
	t.Cleanup(func() { srv.Close(context.Background()) })
	s := newSession(srv, DocParams{DocID: "doc"})
	t.Cleanup(s.handler.Destroy)

	_, err := s.doc()
	assert.ErrorIs(t, err, ErrNoDocument)

	require.NoError(t, s.terminate(context.Background()))
	_, err = s.doc()
	assert.ErrorIs(t, err, ErrTerminated)
	require.NoError(t, s.terminate(context.Background()), "second terminate is a no-op")
}

func TestGetDocRequestVersion(t *testing.T) {
	_, port := rpc.Pipe()
	srv := NewServer(port, Options{})
	t.Cleanup(func() { srv.Close(context.Background()) })

	raw, _ := json.Marshal(DocParams{DocID: "a", APIVersion: "0"})
	_, err := srv.onGetDocRequest(context.Background(), raw)
	assert.ErrorContains(t, err, "does not match")
	assert.Equal(t, 0, srv.Sessions())

	raw, _ = json.Marshal(DocParams{DocID: "a", APIVersion: APIVersion})
	name, err := srv.onGetDocRequest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "a_worker", name)
	assert.Equal(t, 1, srv.Sessions())
}

func TestToWire(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
		code int
	}{
		{"nil", nil, "", 0},
		{"wire error", rpc.NewWireError(rpc.MissingPDFException, "gone", 0), rpc.MissingPDFException, 0},
		{"need password", &crypt.PasswordError{Code: crypt.NeedPassword, Msg: "No password given"}, rpc.PasswordException, 1},
		{"wrong password", fmt.Errorf("open: %w", &crypt.PasswordError{Code: crypt.IncorrectPassword, Msg: "Incorrect Password"}), rpc.PasswordException, 2},
		{"missing", &source.TransportError{URL: "http://x/a.pdf", Status: 404}, rpc.MissingPDFException, 0},
		{"server error", &source.TransportError{URL: "http://x/a.pdf", Status: 500}, rpc.UnknownErrorException, 0},
		{"invalid", fmt.Errorf("load: %w", core.ErrInvalidPDF), rpc.InvalidPDFException, 0},
		{"xref", &core.XRefParseError{Offset: 10, Err: errors.New("bad")}, rpc.InvalidPDFException, 0},
		{"terminated", ErrTerminated, rpc.AbortException, 0},
		{"task terminated", task.ErrTerminated, rpc.AbortException, 0},
		{"cancelled", context.Canceled, rpc.AbortException, 0},
		{"other", errors.New("boom"), rpc.UnknownErrorException, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toWire(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}
