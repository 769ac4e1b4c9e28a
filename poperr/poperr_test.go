package poperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorVerbatimMessage(t *testing.T) {
	cause := errors.New("Receiving end does not exist")
	err := Wrap(ErrProviderTimeout, "Could not connect to \"talisman\".", cause)

	assert.Equal(t, "Could not connect to \"talisman\".", err.Error())
	assert.ErrorIs(t, err, ErrProviderTimeout)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrProviderRejected)
}

func TestWrapFallsBackToCauseMessage(t *testing.T) {
	err := Wrap(ErrProviderRejected, "", errors.New("User rejected the request"))
	assert.Equal(t, "User rejected the request", err.Error())
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("connect: %w", New(ErrValidation, "Tier must be 1, 2, or 3"))
	assert.Equal(t, ErrValidation, KindOf(err))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestTruncate(t *testing.T) {
	short := "authorization timed out"
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("x", 120)
	got := Truncate(long)
	assert.Equal(t, ClippedLen, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, strings.Repeat("x", 77)+"…", got)

	exact := strings.Repeat("y", DisplayLimit)
	assert.Equal(t, exact, Truncate(exact))
	assert.Len(t, []rune(Truncate(exact+"y")), ClippedLen)

	assert.Equal(t, "", Message(nil))
}
