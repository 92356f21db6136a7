package command

import (
	"go.minekube.com/brigodier"

	"github.com/anvilhost/anvil/pkg/command/suggest"
)

// SuggestFunc provides argument suggestions from a command Context.
type SuggestFunc func(c *Context, b *brigodier.SuggestionsBuilder) *brigodier.Suggestions

var _ brigodier.SuggestionProvider = (*SuggestFunc)(nil)

func (s SuggestFunc) Suggestions(c *brigodier.CommandContext, b *brigodier.SuggestionsBuilder) *brigodier.Suggestions {
	return s(createContext(c), b)
}

// SuggestSimilar suggests the candidates list returns for the source
// that are similar to the argument typed so far, best match first.
// Candidates are listed again for every completion request, e.g. the
// names of connected players or installed maps.
func SuggestSimilar(list func(c *Context) []string) SuggestFunc {
	return func(c *Context, b *brigodier.SuggestionsBuilder) *brigodier.Suggestions {
		return suggest.Similar(b, list(c)).Build()
	}
}
