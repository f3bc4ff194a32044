package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := ConnectionError("record listing failed", cause).WithContext("collection", "contacts")

	msg := err.Error()
	assert.Contains(t, msg, "connection")
	assert.Contains(t, msg, "record listing failed")
	assert.Contains(t, msg, "connection refused")
	assert.Contains(t, msg, "collection=contacts")
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("duplicate key")
	err := StorageError("batch upsert failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(ParseError("no markers"), ErrTypeParse))
	assert.True(t, IsType(NotFoundError("connection"), ErrTypeNotFound))
	assert.False(t, IsType(ParseError("no markers"), ErrTypeStorage))
	assert.False(t, IsType(stderrors.New("plain"), ErrTypeInternal))
}
