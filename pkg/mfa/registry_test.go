package mfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodRegistry_Register(t *testing.T) {
	reg := NewMethodRegistry()
	require.NoError(t, reg.Register(passwordHandler("pw")))

	err := reg.Register(passwordHandler("other"))
	require.Error(t, err)
	assert.True(t, IsDuplicateMethod(err))
	var dup *DuplicateMethodError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, MethodPassword, dup.Method)

	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&fakeHandler{}))
}

func TestMethodRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewMethodRegistry()
	reg.MustRegister(totpHandler("123456"))
	assert.Panics(t, func() {
		reg.MustRegister(totpHandler("654321"))
	})
}

func TestMethodRegistry_Resolve(t *testing.T) {
	reg := NewMethodRegistry()
	reg.MustRegister(passwordHandler("pw"))
	reg.MustRegister(emailHandler("12345678"))
	reg.MustRegister(totpHandler("123456"))

	handlers := reg.Resolve([]MethodID{MethodTOTP, MethodWeb3, MethodPassword})
	require.Len(t, handlers, 2)
	assert.Equal(t, MethodPassword, handlers[0].MethodID())
	assert.Equal(t, MethodTOTP, handlers[1].MethodID())

	assert.Empty(t, reg.Resolve(nil))
	assert.Empty(t, reg.Resolve([]MethodID{MethodOAuth}))

	h, ok := reg.Get(MethodEmail)
	require.True(t, ok)
	assert.Equal(t, MethodEmail, h.MethodID())
	_, ok = reg.Get(MethodPhone)
	assert.False(t, ok)

	assert.Len(t, reg.All(), 3)
}
