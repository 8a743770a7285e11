package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	transient := NewTransientError(base)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
	assert.ErrorIs(t, transient, base)

	fatal := NewFatalError(base)
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))

	unavailable := NewUnavailableError("provisions", base)
	assert.True(t, IsUnavailable(unavailable))
	assert.False(t, IsFatal(unavailable))
	assert.Contains(t, unavailable.Error(), "provisions")
	assert.ErrorIs(t, unavailable, base)
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("classify worker: %w", NewUnavailableError("classification", errors.New("down")))
	assert.True(t, IsUnavailable(wrapped))
}

func TestClassifyHTTPError(t *testing.T) {
	assert.True(t, IsTransient(classifyHTTPError(429, nil)))
	assert.True(t, IsTransient(classifyHTTPError(500, nil)))
	assert.True(t, IsTransient(classifyHTTPError(503, nil)))
	assert.True(t, IsFatal(classifyHTTPError(400, nil)))
	assert.True(t, IsFatal(classifyHTTPError(401, nil)))
	assert.True(t, IsFatal(classifyHTTPError(403, nil)))
	assert.True(t, IsFatal(classifyHTTPError(418, nil)))
}
