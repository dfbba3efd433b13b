package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind and message",
			err:  &Error{Kind: KindInvalidInput, Message: "file_path is required"},
			want: "invalid_input: file_path is required",
		},
		{
			name: "wrapped cause",
			err:  &Error{Kind: KindExternalToolFailure, Message: "tshark exited with code 2", Err: fmt.Errorf("exit status 2")},
			want: "external_tool_failure: tshark exited with code 2: exit status 2",
		},
		{
			name: "kind only",
			err:  &Error{Kind: KindInternal},
			want: "internal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	base := New(KindCaptureTimeout, "capture exceeded %ds", 15)
	wrapped := fmt.Errorf("capture_live: %w", base)

	assert.Equal(t, KindCaptureTimeout, KindOf(base))
	assert.Equal(t, KindCaptureTimeout, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.True(t, Is(wrapped, KindCaptureTimeout))
	assert.False(t, Is(nil, KindCaptureTimeout))
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(KindExternalToolFailure, cause, "run tshark")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run tshark", err.Message)
}

func TestDescribe(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		err := InvalidParam("max_packets", "max_packets must be positive, got %d", -1)
		p := Describe(fmt.Errorf("analyze_pcap: %w", err))
		assert.Equal(t, KindInvalidInput, p.Error)
		assert.Equal(t, "max_packets", p.Param)
		assert.Equal(t, "max_packets must be positive, got -1", p.Message)
		assert.False(t, p.Retryable)
	})
	t.Run("retryable kind", func(t *testing.T) {
		p := Describe(New(KindCaptureTimeout, "timed out"))
		assert.True(t, p.Retryable)
		assert.NotEmpty(t, p.Hint)
	})
	t.Run("untyped error", func(t *testing.T) {
		p := Describe(errors.New("boom"))
		assert.Equal(t, KindInternal, p.Error)
		assert.Equal(t, "boom", p.Message)
	})
}

func TestWithHintCopies(t *testing.T) {
	orig := New(KindInvalidErrorType, "unknown error type %q", "bogus")
	hinted := orig.WithHint("custom")
	assert.Equal(t, "custom", hinted.Hint)
	assert.NotEqual(t, "custom", orig.Hint)
}
