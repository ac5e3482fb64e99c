package proxy

import "strings"

// Kind says whether a request is answered by flycli or by the wrapped app.
type Kind int

const (
	// KindForward sends the request to the application port.
	KindForward Kind = iota
	// KindLocal is served by flycli itself.
	KindLocal
)

func (k Kind) String() string {
	if k == KindLocal {
		return "local"
	}
	return "forward"
}

// Handler names the local handler a request is dispatched to.
type Handler string

const (
	HandlerAssets   Handler = "assets"
	HandlerDocument Handler = "document"
	HandlerAgent    Handler = "agent"
	HandlerControl  Handler = "control"
	HandlerUpstream Handler = "upstream"
)

// Control paths are served under this prefix.
const ControlPrefix = "/__flycli/"

// AgentPath is the control WebSocket endpoint.
const AgentPath = "/agent"

// Decision is the result of routing a request.
type Decision struct {
	Kind    Kind
	Handler Handler
}

// Route classifies a request. The first matching rule wins and every path
// yields a decision. The method does not influence the outcome: panel
// paths stay local whatever the verb.
func Route(method, path string) Decision {
	switch {
	case strings.HasPrefix(path, "/assets/"):
		return Decision{Kind: KindLocal, Handler: HandlerAssets}
	case path == "/" || path == "/index.html":
		return Decision{Kind: KindLocal, Handler: HandlerDocument}
	case path == AgentPath:
		return Decision{Kind: KindLocal, Handler: HandlerAgent}
	case strings.HasPrefix(path, ControlPrefix):
		return Decision{Kind: KindLocal, Handler: HandlerControl}
	default:
		return Decision{Kind: KindForward, Handler: HandlerUpstream}
	}
}
