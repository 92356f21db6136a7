// Package permission defines the primitives commands use to check a
// Subject for a permission.
//
// A player's Subject is obtained from the host's permission manager.
// The console is a Subject granting everything.
package permission

// Func is the permission function to obtain the TriState for a permission.
type Func func(permission string) TriState

// Subject returns f as a Subject.
func (f Func) Subject() Subject { return funcSubject(f) }

type funcSubject Func

func (f funcSubject) HasPermission(permission string) bool {
	return f.PermissionValue(permission).Bool()
}

func (f funcSubject) PermissionValue(permission string) TriState {
	return f(permission)
}

// All grants every permission.
var All Func = func(string) TriState { return True }

// Subject is a permission holder like a player.
type Subject interface {
	HasPermission(permission string) bool // Equal to PermissionValue(...).Bool()
	PermissionValue(permission string) TriState
}

// TriState can be in three states (True, False, Undefined), used for a setting.
type TriState uint8

const (
	Undefined TriState = iota // A permission is undefined.
	True                      // A permission is allowed.
	False                     // A permission is explicitly denied.
)

// Bool returns the bool value of a TriState where
// Undefined is converted to false.
func (t TriState) Bool() bool {
	return t == True
}
