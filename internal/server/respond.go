package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/tidwall/gjson"
)

// maxBodyBytes caps request bodies on every POST endpoint.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}

// writeOAuthError renders err with the status of its kind. Causes are
// never written to the client.
func writeOAuthError(w http.ResponseWriter, err error) {
	oe := oerrors.As(err)
	if oe.Code == oerrors.CodeInvalidClient {
		// RFC 6749 Section 5.2: clients that tried HTTP Basic get a challenge.
		w.Header().Set("WWW-Authenticate", `Basic realm="oauthd"`)
	}

	writeJSONError(w, oe.HTTPStatus(), oe.Code, oe.Description)
}

// params holds request parameters from either a form or a JSON body.
// JSON bodies may use snake_case or camelCase keys.
type params map[string]string

func (p params) get(snake string) string {
	if v, ok := p[snake]; ok {
		return v
	}

	return p[camel(snake)]
}

// camel converts grant_type to grantType.
func camel(snake string) string {
	parts := strings.Split(snake, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}

	return strings.Join(parts, "")
}

var errUnsupportedMediaType = errors.New("unsupported content type")

// readParams decodes a POST body. Form bodies follow RFC 6749; JSON
// bodies must be a flat object of strings.
func readParams(w http.ResponseWriter, r *http.Request) (params, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	// ParseForm ignores bodies that do not declare their type, so a
	// missing Content-Type is rejected rather than read as empty.
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, errUnsupportedMediaType
	}

	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}

		if !gjson.ValidBytes(body) {
			return nil, errors.New("invalid JSON body")
		}

		root := gjson.ParseBytes(body)
		if !root.IsObject() {
			return nil, errors.New("JSON body must be an object")
		}

		p := make(params)

		var bad string

		root.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.String:
				p[key.Str] = value.Str
			case gjson.Null:
			default:
				bad = key.Str
				return false
			}

			return true
		})

		if bad != "" {
			return nil, fmt.Errorf("parameter %q must be a string", bad)
		}

		return p, nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}

		p := make(params, len(r.PostForm))
		for k, vs := range r.PostForm {
			// RFC 6749 Section 3.2: parameters must not be repeated.
			if len(vs) > 1 {
				return nil, fmt.Errorf("parameter %q is repeated", k)
			}

			p[k] = vs[0]
		}

		return p, nil
	default:
		return nil, errUnsupportedMediaType
	}
}

// writeParamsError maps a readParams failure to a response.
func writeParamsError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, oerrors.CodeInvalidRequest, "request body too large")
	case errors.Is(err, errUnsupportedMediaType):
		writeJSONError(w, http.StatusUnsupportedMediaType, oerrors.CodeInvalidRequest, "content type must be application/x-www-form-urlencoded or application/json")
	default:
		writeJSONError(w, http.StatusBadRequest, oerrors.CodeInvalidRequest, err.Error())
	}
}

// basicCredentials returns HTTP Basic client credentials. Both parts are
// form-urlencoded per RFC 6749 Section 2.3.1.
func basicCredentials(r *http.Request) (id, secret string, ok bool, err error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", "", false, nil
	}

	if id, err = url.QueryUnescape(user); err != nil {
		return "", "", true, err
	}

	if secret, err = url.QueryUnescape(pass); err != nil {
		return "", "", true, err
	}

	return id, secret, true, nil
}
