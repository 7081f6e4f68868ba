package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// WriteError writes the API error envelope {"code","kind","message"} used
// by every JSON error response of the server.
func WriteError(w http.ResponseWriter, code int, kind, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.Field("code", func(e *jx.Encoder) { e.Int(code) })
	e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
	e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
