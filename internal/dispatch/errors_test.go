package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with token",
			err:  newCycleError(Token(3)),
			want: "CIRCULAR_DEPENDENCY: circular dependency detected while waiting for subscriber (token=ID_3)",
		},
		{
			name: "without token",
			err:  newNotDispatchingError(),
			want: "NOT_DISPATCHING: WaitFor must be invoked while dispatching",
		},
		{
			name: "reentrant names the active round",
			err:  newReentrantDispatchError("round-7"),
			want: "REENTRANT_DISPATCH: cannot dispatch in the middle of round round-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := newUnknownSubscriberError(Token(9), "gone")

	assert.ErrorIs(t, err, ErrUnknownSubscriber)
	assert.NotErrorIs(t, err, ErrCircularDependency)
	assert.NotErrorIs(t, err, errors.New("UNKNOWN_SUBSCRIBER"))
}

func TestError_WrappedHelpers(t *testing.T) {
	wrapped := fmt.Errorf("handling checkout: %w", newCycleError(Token(1)))

	assert.True(t, IsCycleError(wrapped))
	assert.False(t, IsUnknownSubscriber(wrapped))
	assert.Equal(t, ErrCodeCircularDependency, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrCircularDependency)
}

func TestCodeOf_ForeignError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
