package v1

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// decodeJSONStrict validates optional Content-Type, enforces a max body size,
// and decodes JSON into dst while disallowing unknown fields. It returns
// ErrContentType when the Content-Type header is present but not acceptable.
func decodeJSONStrict(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, contentTypePrefix string) error {
    if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, contentTypePrefix) {
        return ErrContentType
    }
    r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(dst); err != nil {
        if errors.Is(err, ErrContentType) {
            return ErrContentType
        }
        return err
    }
    return nil
}

// decodeBody wraps decodeJSONStrict with the response for failures. It
// reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
    err := decodeJSONStrict(w, r, dst, maxJSONBody, "application/json")
    switch {
    case err == nil:
        return true
    case errors.Is(err, ErrContentType):
        markErr(w, err)
        writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: err.Error()})
    default:
        badRequest(w, errors.New("invalid JSON: "+err.Error()))
    }
    return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}
