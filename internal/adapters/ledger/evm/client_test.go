package evm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/medicrypt/medicrypt/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.ErrLedgerTimeout},
		{"revert", errors.New("execution reverted: not record owner"), domain.ErrLedgerRejected},
		{"revert short", errors.New("rpc error: revert"), domain.ErrLedgerRejected},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), domain.ErrLedgerUnavailable},
		{"eof", errors.New("unexpected EOF"), domain.ErrLedgerUnavailable},
	}

	for _, tc := range cases {
		got := classify(tc.in)
		if !errors.Is(got, tc.want) {
			t.Fatalf("%s: classify(%v) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestDialRejectsIncompleteConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := Dial(ctx, Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	if _, err := Dial(ctx, Config{RPCURL: "http://localhost:8545", ContractAddress: "not-an-address", ServiceKeyHex: "ab"}); err == nil {
		t.Fatalf("expected error for malformed contract address")
	}
}
