// Package command dispatches console and chat commands and tracks the
// output of commands run through the game's console.
package command

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"go.minekube.com/brigodier"

	"github.com/anvilhost/anvil/pkg/util/permission"
)

// Manager is a command manager for
// registering and executing host commands.
type Manager struct{ brigodier.Dispatcher }

// Source is the invoker of a command.
// It could be a player or the server console.
type Source interface {
	permission.Subject
	// SendMessage sends a message to the invoker.
	SendMessage(msg string) error
}

// NewSource returns a Source checking permissions on subject and
// delivering messages with send.
func NewSource(subject permission.Subject, send func(msg string) error) Source {
	return &source{Subject: subject, send: send}
}

type source struct {
	permission.Subject
	send func(string) error
}

func (s *source) SendMessage(msg string) error { return s.send(msg) }

// ConsoleSource returns the Source of commands typed into the server
// console. It holds every permission and logs messages to log.
func ConsoleSource(log logr.Logger) Source {
	return NewSource(permission.All.Subject(), func(msg string) error {
		log.Info(msg)
		return nil
	})
}

// ContextWithSource returns a context carrying src.
func ContextWithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceCtxKey, src)
}

// SourceFromContext retrieves the Source from a command's context.
func SourceFromContext(ctx context.Context) Source {
	s := ctx.Value(sourceCtxKey)
	if s == nil {
		return nil
	}
	src, _ := s.(Source)
	return src
}

// Context wraps the context for a brigodier.Command.
type Context struct {
	*brigodier.CommandContext
	Source
}

func createContext(c *brigodier.CommandContext) *Context {
	return &Context{
		CommandContext: c,
		Source:         SourceFromContext(c),
	}
}

// RequiresContext wraps the context for a brigodier.RequireFn.
type RequiresContext struct {
	context.Context
	Source
}

// Command wraps the context for a brigodier.Command.
func Command(fn func(c *Context) error) brigodier.Command {
	return brigodier.CommandFunc(func(c *brigodier.CommandContext) error {
		return fn(createContext(c))
	})
}

// Requires wraps the context for a brigodier.RequireFn.
func Requires(fn func(c *RequiresContext) bool) brigodier.RequireFn {
	return func(ctx context.Context) bool {
		return fn(&RequiresContext{
			Context: ctx,
			Source:  SourceFromContext(ctx),
		})
	}
}

// RequiresPermission only lets sources holding perm use a node.
func RequiresPermission(perm string) brigodier.RequireFn {
	return Requires(func(c *RequiresContext) bool {
		return c.Source != nil && c.Source.HasPermission(perm)
	})
}

// ParseResults are the parse results of a parsed command input.
//
// It overlays brigodier.ParseResults to make clear that Manager.Execute
// must only get parse results returned by Manager.Parse.
type ParseResults brigodier.ParseResults

// Parse stores a required command invoker Source in ctx,
// parses the command and returns parse results for use with Execute.
func (m *Manager) Parse(ctx context.Context, src Source, command string) *ParseResults {
	return m.ParseReader(ctx, src, &brigodier.StringReader{String: command})
}

// ParseReader stores a required command invoker Source in ctx,
// parses the command and returns parse results for use with Execute.
func (m *Manager) ParseReader(ctx context.Context, src Source, command *brigodier.StringReader) *ParseResults {
	ctx = ContextWithSource(ctx, src)
	return (*ParseResults)(m.Dispatcher.ParseReader(ctx, command))
}

// Do does a Parse and Execute.
func (m *Manager) Do(ctx context.Context, src Source, command string) error {
	return m.Execute(m.Parse(ctx, src, command))
}

// Execute ensures parse context has a Source and executes it.
func (m *Manager) Execute(parse *ParseResults) error {
	if SourceFromContext(parse.Context) == nil {
		return errors.New("context misses command source")
	}
	return m.Dispatcher.Execute((*brigodier.ParseResults)(parse))
}

// RegisterWithAliases registers cmd and one redirecting literal per
// alias. Aliases share the requirement and command of cmd.
func (m *Manager) RegisterWithAliases(cmd brigodier.LiteralNodeBuilder, aliases ...string) *brigodier.LiteralCommandNode {
	node := m.Register(cmd)
	for _, alias := range aliases {
		m.Register(brigodier.Literal(strings.ToLower(alias)).
			Requires(node.CanUse).
			Executes(node.Command()).
			Redirect(node))
	}
	return node
}

// Has indicates whether the specified command/alias is registered.
func (m *Manager) Has(command string) bool {
	_, ok := m.Dispatcher.Root.Children()[strings.ToLower(command)]
	return ok
}

// CompletionSuggestions returns completion suggestions.
func (m *Manager) CompletionSuggestions(parse *ParseResults) (*brigodier.Suggestions, error) {
	return m.Dispatcher.CompletionSuggestions((*brigodier.ParseResults)(parse))
}

// OfferSuggestions returns completion suggestions.
func (m *Manager) OfferSuggestions(ctx context.Context, source Source, cmdline string) ([]string, error) {
	suggestions, err := m.CompletionSuggestions(m.Parse(ctx, source, cmdline))
	if err != nil {
		return nil, err
	}
	s := make([]string, 0, len(suggestions.Suggestions))
	for _, suggestion := range suggestions.Suggestions {
		s = append(s, suggestion.Text)
	}
	return s, nil
}

type sourceCtx struct{}

var sourceCtxKey = &sourceCtx{}
