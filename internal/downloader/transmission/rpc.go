package transmission

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"

    "github.com/tinoosan/magnetron/internal/data"
    "github.com/tinoosan/magnetron/internal/downloader"
)

const sessionHeader = "X-Transmission-Session-Id"

// --- RPC wire types ---

type rpcReq struct {
    Method    string `json:"method"`
    Arguments any    `json:"arguments,omitempty"`
    Tag       int    `json:"tag,omitempty"`
}

type rpcResp struct {
    Result    string          `json:"result"`
    Arguments json.RawMessage `json:"arguments,omitempty"`
    Tag       int             `json:"tag,omitempty"`
}

// rpcError is a well-formed response whose result is not "success".
type rpcError struct {
    Method string
    Result string
}

func (e *rpcError) Error() string { return fmt.Sprintf("transmission %s: %s", e.Method, e.Result) }

var errAuth = errors.New("transmission: authentication failed")

// call posts one RPC. A 409 carries the session id the server wants; it is
// stored and the request is sent again, once.
func (c *Client) call(ctx context.Context, method string, args any) (_ json.RawMessage, err error) {
    done := downloader.Track(data.Transmission, method)
    defer func() { done(err) }()

    body, _ := json.Marshal(rpcReq{Method: method, Arguments: args})

    for attempt := 0; attempt < 2; attempt++ {
        req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
        if err != nil {
            return nil, err
        }
        req.Header.Set("Content-Type", "application/json")
        if c.username != "" || c.password != "" {
            req.SetBasicAuth(c.username, c.password)
        }
        if sid := c.session(); sid != "" {
            req.Header.Set(sessionHeader, sid)
        }

        resp, err := c.http.Do(req)
        if err != nil {
            return nil, fmt.Errorf("transmission %s: %w", method, err)
        }
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
        _ = resp.Body.Close()

        switch {
        case resp.StatusCode == http.StatusConflict:
            sid := resp.Header.Get(sessionHeader)
            if sid == "" {
                return nil, fmt.Errorf("transmission %s: 409 without %s", method, sessionHeader)
            }
            c.setSession(sid)
            continue
        case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
            return nil, fmt.Errorf("%w (http %d)", errAuth, resp.StatusCode)
        case resp.StatusCode < 200 || resp.StatusCode >= 300:
            return nil, fmt.Errorf("transmission http %d: %s", resp.StatusCode, string(b))
        }

        var rr rpcResp
        if err := json.Unmarshal(b, &rr); err != nil {
            return nil, fmt.Errorf("transmission rpc decode: %w (%s)", err, string(b))
        }
        if rr.Result != "success" {
            return nil, &rpcError{Method: method, Result: rr.Result}
        }
        return rr.Arguments, nil
    }
    return nil, fmt.Errorf("transmission %s: session id rejected twice", method)
}
