package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: nats.ErrTimeout, want: true},
		{name: "wrapped disconnect", err: fmt.Errorf("get: %w", nats.ErrDisconnected), want: true},
		{name: "sentinel", err: types.ErrConnectivity, want: true},
		{name: "refused text", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "busy", err: types.ErrBusy, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}
