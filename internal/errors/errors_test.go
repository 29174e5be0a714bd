// SPDX-License-Identifier: MIT
package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := Wrap(KindDeviceUnreachable, "wled.Ping", io.EOF)

	assert.True(t, Is(err, ErrDeviceUnreachable))
	assert.False(t, Is(err, ErrTransientIO))
	assert.True(t, Is(err, io.EOF), "cause must remain reachable")
	assert.Equal(t, KindDeviceUnreachable, KindOf(err))
	assert.Equal(t, "wled.Ping: EOF", err.Error())
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	inner := New(KindShutdownInProgress, "preset.save", "coordinator stopping")
	outer := fmt.Errorf("api: %w", inner)

	assert.Equal(t, KindShutdownInProgress, KindOf(outer))
	assert.True(t, Is(outer, ErrShutdownInProgress))
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindFatal, "op", nil))
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransientIO, "transient_io"},
		{KindConfigurationInvalid, "configuration_invalid"},
		{KindNotFound, "not_found"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}
