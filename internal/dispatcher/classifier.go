package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/upstream"
)

// Classifier suggests where a batch should land in the downloader. Empty
// fields in the result leave the job's own options untouched.
type Classifier interface {
	Classify(ctx context.Context, title string, urls []string) (downloadcfg.AddOptions, error)
}

// HTTPClassifier posts {title, urls} to an external classification service
// and reads back {savePath, category, tags}.
type HTTPClassifier struct {
	endpoint string
	http     *http.Client
}

const classifyTimeout = 8 * time.Second

// NewHTTPClassifierFromEnv reads CLASSIFIER_URL and returns nil when unset.
func NewHTTPClassifierFromEnv() *HTTPClassifier {
	ep := strings.TrimSpace(os.Getenv("CLASSIFIER_URL"))
	if ep == "" {
		return nil
	}
	return NewHTTPClassifier(ep, nil)
}

func NewHTTPClassifier(endpoint string, hc *http.Client) *HTTPClassifier {
	if hc == nil {
		hc = &http.Client{Timeout: classifyTimeout}
	}
	return &HTTPClassifier{endpoint: endpoint, http: hc}
}

type classifyRequest struct {
	Title string   `json:"title"`
	URLs  []string `json:"urls"`
}

type classifyResponse struct {
	SavePath string   `json:"savePath"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, title string, urls []string) (downloadcfg.AddOptions, error) {
	body, err := json.Marshal(classifyRequest{Title: title, URLs: urls})
	if err != nil {
		return downloadcfg.AddOptions{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return downloadcfg.AddOptions{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return downloadcfg.AddOptions{}, &data.UpstreamError{Op: "classify", Err: err}
	}
	defer resp.Body.Close()
	raw, err := upstream.ReadBody("classify", resp)
	if err != nil {
		return downloadcfg.AddOptions{}, err
	}
	var out classifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return downloadcfg.AddOptions{}, &data.UpstreamError{Op: "classify", Err: err}
	}
	return downloadcfg.AddOptions{
		SavePath: strings.TrimSpace(out.SavePath),
		Category: strings.TrimSpace(out.Category),
		Tags:     out.Tags,
	}, nil
}
