package command

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.minekube.com/brigodier"

	"github.com/anvilhost/anvil/pkg/util/permission"
)

// mockSource implements Source for testing.
type mockSource struct {
	perms    map[string]bool
	messages []string
}

func (m *mockSource) HasPermission(perm string) bool { return m.perms[perm] }

func (m *mockSource) PermissionValue(perm string) permission.TriState {
	if m.HasPermission(perm) {
		return permission.True
	}
	return permission.False
}

func (m *mockSource) SendMessage(msg string) error {
	m.messages = append(m.messages, msg)
	return nil
}

func TestCommandAliases(t *testing.T) {
	var mgr Manager
	var executed int

	mgr.RegisterWithAliases(brigodier.Literal("testcmd").Executes(Command(func(c *Context) error {
		executed++
		return c.Source.SendMessage("Test command executed!")
	})), "tc", "Test")

	require.True(t, mgr.Has("testcmd"))
	require.True(t, mgr.Has("tc"))
	require.True(t, mgr.Has("test"))

	src := &mockSource{}
	for _, cmd := range []string{"testcmd", "tc", "test"} {
		require.NoError(t, mgr.Do(context.TODO(), src, cmd), cmd)
	}
	assert.Equal(t, 3, executed)
	assert.Len(t, src.messages, 3)
}

func TestCommandAliases_WithArguments(t *testing.T) {
	var mgr Manager
	var got string
	mgr.RegisterWithAliases(brigodier.Literal("kick").
		Then(brigodier.Argument("player", brigodier.String).
			Executes(Command(func(c *Context) error {
				got = c.String("player")
				return nil
			}))), "k")

	require.NoError(t, mgr.Do(context.TODO(), &mockSource{}, "k alice"))
	assert.Equal(t, "alice", got)
}

func TestRequiresPermission(t *testing.T) {
	var mgr Manager
	mgr.RegisterWithAliases(brigodier.Literal("restricted").
		Requires(RequiresPermission("test.permission")).
		Executes(Command(func(c *Context) error {
			return c.SendMessage("Restricted command!")
		})), "r")

	denied := &mockSource{}
	require.Error(t, mgr.Do(context.TODO(), denied, "restricted"))
	require.Error(t, mgr.Do(context.TODO(), denied, "r"))
	assert.Empty(t, denied.messages)

	allowed := &mockSource{perms: map[string]bool{"test.permission": true}}
	require.NoError(t, mgr.Do(context.TODO(), allowed, "restricted"))
	require.NoError(t, mgr.Do(context.TODO(), allowed, "r"))
	assert.Equal(t, []string{"Restricted command!", "Restricted command!"}, allowed.messages)
}

func TestExecute_MissingSource(t *testing.T) {
	var mgr Manager
	mgr.Register(brigodier.Literal("x").Executes(Command(func(*Context) error { return nil })))
	parse := mgr.Parse(context.TODO(), nil, "x")
	require.Error(t, mgr.Execute(parse))
}

func TestConsoleSource(t *testing.T) {
	src := ConsoleSource(testr.New(t))
	assert.True(t, src.HasPermission("anything"))
	assert.NoError(t, src.SendMessage("hello"))

	var sent []string
	player := NewSource(permission.Func(func(string) permission.TriState {
		return permission.Undefined
	}).Subject(), func(msg string) error {
		sent = append(sent, msg)
		return nil
	})
	assert.False(t, player.HasPermission("kick"))
	require.NoError(t, player.SendMessage("hi"))
	assert.Equal(t, []string{"hi"}, sent)
}

func TestOfferSuggestions(t *testing.T) {
	var mgr Manager
	mgr.Register(brigodier.Literal("map").
		Then(brigodier.Argument("name", brigodier.String).
			Suggests(SuggestSimilar(func(*Context) []string {
				return []string{"de_dust2", "de_inferno", "office"}
			})).
			Executes(Command(func(*Context) error { return nil }))))

	s, err := mgr.OfferSuggestions(context.TODO(), &mockSource{}, "map de_")
	require.NoError(t, err)
	assert.Contains(t, s, "de_dust2")
	assert.Contains(t, s, "de_inferno")
	assert.NotContains(t, s, "office")
}
