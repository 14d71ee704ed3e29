package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialFailureErrorNamesEveryKind(t *testing.T) {
	boom := errors.New("boom")
	err := error(&PartialFailureError{Op: "connect", Failures: []TransportFailure{
		{Kind: "p2p", Err: boom},
		{Kind: "websocket", Err: ErrUnreachableNodes},
	}})

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrUnreachableNodes)
	assert.Contains(t, err.Error(), "p2p: boom")
	assert.Contains(t, err.Error(), "websocket")

	var pf *PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []string{"p2p", "websocket"}, pf.Kinds())
}

func TestRetryExhaustedCarriesLastCause(t *testing.T) {
	last := &RelayError{Status: 403, ErrCode: "M_FORBIDDEN", Message: "not invited"}
	err := fmt.Errorf("join: %w", &RetryExhaustedError{Op: "join", Attempts: 10, Last: last})

	assert.True(t, IsForbidden(err))
	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 10, re.Attempts)
	assert.Same(t, last, re.Last)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&Acknowledge{}))
	assert.True(t, IsTerminal(&PermissionResponse{}))
	assert.True(t, IsTerminal(&ErrorResponse{}))
}

func TestNewMessageClosedSet(t *testing.T) {
	for _, typ := range []MessageType{
		PermissionRequestType, OperationRequestType, SignPayloadRequestType, BroadcastRequestType,
		TransferRequestType, PermissionResponseType, OperationResponseType, SignPayloadResponseType,
		BroadcastResponseType, TransferResponseType, AcknowledgeType, ErrorType, DisconnectType,
	} {
		m := NewMessage(typ)
		require.NotNil(t, m, typ)
		assert.Equal(t, typ, m.Type())
	}
	assert.Nil(t, NewMessage("bogus"))
}
