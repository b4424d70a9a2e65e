package types_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardline/abusegate/pkg/types"
)

func TestSecurityError_MessagePrefersReason(t *testing.T) {
	secErr := &types.SecurityError{Code: "forbidden", Reason: types.CodeIPBlocked}
	assert.Equal(t, types.CodeIPBlocked, secErr.Error())

	secErr = &types.SecurityError{Code: types.CodeRateLimited}
	assert.Equal(t, types.CodeRateLimited, secErr.Error())
}

func TestSecurityError_UnwrapsCause(t *testing.T) {
	cause := errors.New("store unreachable")
	secErr := &types.SecurityError{Code: types.CodeAccountLocked, Err: cause}
	assert.ErrorIs(t, secErr, cause)
}
