package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(CodeJobNotFound, "job not found: %s", "job-1")

	assert.Equal(t, CodeJobNotFound, err.Code)
	assert.Equal(t, "job not found: job-1", err.Message)
	assert.Equal(t, "JOB_NOT_FOUND: job not found: job-1", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStorage, cause, "failed to save %s", "job.json")

	assert.Equal(t, "STORAGE_ERROR: failed to save job.json: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsAndGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"direct", New(CodeRender, "x"), CodeRender, true},
		{"other code", New(CodeRender, "x"), CodeComparison, false},
		{"wrapped by fmt", fmt.Errorf("render B: %w", New(CodeRender, "x")), CodeRender, true},
		{"plain error", errors.New("x"), CodeRender, false},
		{"nil", nil, CodeRender, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.err, tt.code))
		})
	}

	assert.Equal(t, CodeStorage, GetCode(fmt.Errorf("ctx: %w", Wrap(CodeStorage, errors.New("io"), "save"))))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "job not found: x", UserMessage(New(CodeJobNotFound, "job not found: x")))
	assert.Equal(t, "invalid job: threshold", UserMessage(Wrap(CodeInvalidInput, errors.New("threshold"), "invalid job")))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
}
