package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsError(t *testing.T) {
	t.Parallel()
	oxdErr := New(KindInvalidNonce)

	got, ok := AsError(fmt.Errorf("handler: %w", oxdErr))
	assert.True(t, ok)
	assert.Same(t, oxdErr, got)

	got, ok = AsError(errors.New("standard"))
	assert.False(t, ok)
	assert.Nil(t, got)

	got, ok = AsError(nil)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGetKindAndHasKind(t *testing.T) {
	t.Parallel()
	err := New(KindInvalidAccessToken)
	assert.Equal(t, KindInvalidAccessToken, GetKind(err))
	assert.True(t, HasKind(err, KindInvalidAccessToken))
	assert.False(t, HasKind(err, KindBlankAccessToken))
	assert.Equal(t, Kind(""), GetKind(errors.New("x")))
	assert.False(t, HasKind(nil, KindInvalidAccessToken))
}

func TestCategoryChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		err           error
		request       bool
		authorization bool
		tokenValid    bool
		upstream      bool
		client        bool
		server        bool
	}{
		{name: "request", err: New(KindBadRequestNoOxdID), request: true, client: true},
		{name: "authorization", err: New(KindBlankAccessToken), authorization: true, client: true},
		{name: "token validation", err: New(KindInvalidIDTokenBadNonce), tokenValid: true, server: true},
		{name: "upstream", err: New(KindSSLHandshakeError), upstream: true, server: true},
		{name: "internal", err: New(KindUnsupportedOperation), server: true},
		{name: "plain error", err: errors.New("x")},
		{name: "nil", err: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.request, IsRequest(tt.err))
			assert.Equal(t, tt.authorization, IsAuthorization(tt.err))
			assert.Equal(t, tt.tokenValid, IsTokenValidation(tt.err))
			assert.Equal(t, tt.upstream, IsUpstream(tt.err))
			assert.Equal(t, tt.upstream, IsRetryable(tt.err))
			assert.Equal(t, tt.client, IsClientError(tt.err))
			assert.Equal(t, tt.server, IsServerError(tt.err))
		})
	}
}
