package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriState_Bool(t *testing.T) {
	assert.True(t, True.Bool())
	assert.False(t, False.Bool())
	assert.False(t, Undefined.Bool())
}

func TestFunc_Subject(t *testing.T) {
	s := Func(func(p string) TriState {
		if p == "kick" {
			return False
		}
		return Undefined
	}).Subject()
	assert.False(t, s.HasPermission("kick"))
	assert.Equal(t, False, s.PermissionValue("kick"))
	assert.Equal(t, Undefined, s.PermissionValue("ban"))

	assert.True(t, All.Subject().HasPermission("anything"))
}
