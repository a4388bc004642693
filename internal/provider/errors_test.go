package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	for _, b := range Backends {
		got, err := ParseBackend(string(b))
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}

	_, err := ParseBackend("redis")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindUnavailable},
		{"canceled", context.Canceled, KindUnavailable},
		{"net op", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindUnavailable},
		{"dns", &net.DNSError{Err: "no such host", Name: "kv.invalid"}, KindUnavailable},
		{"other", errors.New("constraint failed"), KindOperation},
		{"already classified", CorruptCache("read", errors.New("bad json")), KindCorruptCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(BackendKV, "get events", tt.err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}

	assert.NoError(t, Classify(BackendKV, "noop", nil))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsUnavailable(Unavailable(BackendKV, "ping", nil)))
	assert.True(t, IsOperation(fmt.Errorf("wrap: %w", Operation(BackendRelational, "save", errors.New("x")))))
	assert.True(t, IsCorruptCache(CorruptCache("decode", errors.New("x"))))
	assert.True(t, IsPersistenceFailed(PersistenceFailed("save event", errors.New("x"))))
	assert.False(t, IsUnavailable(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestPersistenceFailed_AggregatesCauses(t *testing.T) {
	first := Unavailable(BackendKV, "save event", errors.New("connection refused"))
	second := errors.New("disk full")

	err := PersistenceFailed("save event", first, nil, second)

	assert.True(t, errors.Is(err, second))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), string(KindPersistenceFailed))
}

func TestError_Message(t *testing.T) {
	err := Operation(BackendRelational, "save task", errors.New("boom"))
	assert.Equal(t, "BACKEND_OPERATION (relational): save task: boom", err.Error())

	bare := &Error{Kind: KindUnavailable, Op: "probe"}
	assert.Equal(t, "BACKEND_UNAVAILABLE: probe", bare.Error())
}
