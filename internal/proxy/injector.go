package proxy

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/standardbeagle/flycli/internal/proxy/scripts"
)

// AppPortScript is the snippet that tells the panel where the app lives.
func AppPortScript(appPort int) []byte {
	return fmt.Appendf(nil, "<script>window.FLYCLI_APP_PORT = %d;</script>", appPort)
}

// LauncherScript is the floating launcher added to proxied pages. It links
// back to the panel on the same origin.
func LauncherScript() []byte {
	return fmt.Appendf(nil, "<script data-flycli-launcher>%s</script>", scripts.Launcher())
}

// Inject inserts snippet into an HTML document. It goes before </head>
// when present, otherwise after <head>, otherwise after the opening body
// tag, otherwise it is prepended.
func Inject(body, snippet []byte) []byte {
	if idx := bytes.Index(body, []byte("</head>")); idx != -1 {
		return insertAt(body, snippet, idx)
	}

	if idx := bytes.Index(body, []byte("<head>")); idx != -1 {
		return insertAt(body, snippet, idx+len("<head>"))
	}

	if idx := bytes.Index(body, []byte("<body")); idx != -1 {
		// Find the end of the body tag
		if end := bytes.IndexByte(body[idx:], '>'); end != -1 {
			return insertAt(body, snippet, idx+end+1)
		}
	}

	return insertAt(body, snippet, 0)
}

func insertAt(body, snippet []byte, at int) []byte {
	result := make([]byte, 0, len(body)+len(snippet))
	result = append(result, body[:at]...)
	result = append(result, snippet...)
	result = append(result, body[at:]...)
	return result
}

// ShouldInject determines if a response is an HTML document.
func ShouldInject(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html")
}
