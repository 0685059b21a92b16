package option

import (
	"github.com/boristopalov/vecenv/pkg/enverr"
)

// Handler consumes one recognized option.
type Handler func(Value) error

// Parser dispatches a Set to per-name handlers. Names without a handler are
// configuration errors; the parser never skips an option.
type Parser struct {
	env      string
	handlers map[string]Handler
	seen     map[string]bool
}

// NewParser returns a parser whose errors are attributed to env.
func NewParser(env string) *Parser {
	return &Parser{
		env:      env,
		handlers: make(map[string]Handler),
		seen:     make(map[string]bool),
	}
}

// Handle registers the handler for name.
func (p *Parser) Handle(name string, h Handler) *Parser {
	p.handlers[name] = h
	return p
}

// Parse runs handlers in set order and stops at the first error.
func (p *Parser) Parse(set Set) error {
	for _, v := range set {
		h, ok := p.handlers[v.Name]
		if !ok {
			return enverr.UnknownOption(p.env, v.Name)
		}
		if err := h(v); err != nil {
			return attribute(err, p.env)
		}
		p.seen[v.Name] = true
	}
	return nil
}

// Seen reports whether an option with name was parsed.
func (p *Parser) Seen(name string) bool {
	return p.seen[name]
}

func attribute(err error, env string) error {
	e, ok := err.(*enverr.Error)
	if !ok || e.Env != "" {
		return err
	}
	cp := *e
	cp.Env = env
	return &cp
}
