// Package show defines the narrow request/response interface the
// (external, out-of-scope) interactive shell uses to render "show ..."
// output from the core's live state. Rendering
// itself belongs to the shell; this package only carries the request
// shape and the dispatch table the core's actors register handlers into.
package show

// Request is one show-command invocation: a command path, its arguments,
// whether JSON output was requested, and the channel Dispatch sends the
// handler's Response on.
type Request struct {
	Path     string
	Args     []string
	JSON     bool
	RespChan chan<- Response
}

// Response is the handler's reply: rendered text (plain or JSON, per
// Request.JSON) or an error if the path/args were invalid.
type Response struct {
	Text string
	Err  error
}

// Handler renders one show-command path's output. Each protocol actor
// registers its own handlers against a Registry rather than exposing
// internal state directly, keeping every read on that actor's own event
// loop.
type Handler func(args []string, json bool) (string, error)

// Registry maps show-command paths to handlers and dispatches Requests.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry constructs an empty show-command registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a Handler to an exact show-command path (e.g.
// "bgp summary", "isis database").
func (r *Registry) Register(path string, h Handler) {
	r.handlers[path] = h
}

// Dispatch looks up req.Path's handler and sends its rendered result (or
// error) on req.RespChan.
func (r *Registry) Dispatch(req Request) {
	h, ok := r.handlers[req.Path]
	if !ok {
		req.RespChan <- Response{Err: &UnknownPathError{Path: req.Path}}
		return
	}
	text, err := h(req.Args, req.JSON)
	req.RespChan <- Response{Text: text, Err: err}
}

// UnknownPathError reports a show-command path with no registered handler.
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string { return "show: unknown command path " + e.Path }
