package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

const defaultPageSize = 100

// HTTPClient talks to one tracker server over REST. The generation is fixed
// at construction (explicit config or probe) and never changes mid-run.
type HTTPClient struct {
	baseURL string
	apiKey  string
	gen     Generation
	http    *http.Client
	log     *logrus.Logger
}

// New builds a client for a known generation. Use Detect first when the
// generation is not pinned by configuration.
func New(baseURL, apiKey string, gen Generation, log *logrus.Logger) (*HTTPClient, error) {
	if gen != GenV1 && gen != GenV2 {
		return nil, errors.Errorf("unsupported API generation %q", gen)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		gen:     gen,
		http:    newHTTPClient(),
		log:     log,
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Detect probes the server's generation without authenticating. The probe
// must run before the first authenticated request because the two
// generations reject each other's auth headers.
func Detect(ctx context.Context, baseURL string, log *logrus.Logger) (Generation, error) {
	probe := func(gen Generation) (int, error) {
		u := strings.TrimRight(baseURL, "/") + "/api/" + string(gen) + "/status"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, err
		}
		resp, err := newHTTPClient().Do(req)
		if err != nil {
			return 0, err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	status, err := probe(GenV2)
	if err != nil {
		return GenUnknown, errors.Wrap(err, "generation probe")
	}
	if status < 500 && status != http.StatusNotFound && status != http.StatusGone {
		log.WithField("generation", GenV2).Debug("generation probe")
		return GenV2, nil
	}

	status, err = probe(GenV1)
	if err != nil {
		return GenUnknown, errors.Wrap(err, "generation probe")
	}
	if status < 500 && status != http.StatusNotFound && status != http.StatusGone {
		log.WithField("generation", GenV1).Debug("generation probe")
		return GenV1, nil
	}
	return GenUnknown, errors.New("server answers neither API generation")
}

func (c *HTTPClient) Generation() Generation { return c.gen }

func (c *HTTPClient) Capability(cap Capability) CapState { return Support(c.gen, cap) }

func (c *HTTPClient) endpoint(path string) string {
	return fmt.Sprintf("%s/api/%s%s", c.baseURL, c.gen, path)
}

func (c *HTTPClient) authorize(req *http.Request) {
	switch c.gen {
	case GenV2:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	default:
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

// do issues one request with the retry policy: transient failures (network
// errors, 5xx, 429) back off exponentially up to the attempt budget; 4xx are
// returned immediately, 403 as ErrPermissionDenied, 404 as ErrNotFound.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d := backoff(attempt-1, maxBackoff)
			c.log.WithFields(logrus.Fields{"attempt": attempt, "sleep": d, "path": path}).
				Warn("retrying tracker call")
			if err := sleepFn(ctx, d); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = errors.Wrapf(err, "%s %s", method, path)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = errors.Wrapf(readErr, "%s %s", method, path)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return errors.Wrapf(err, "%s %s: decode", method, path)
			}
			return nil
		case resp.StatusCode == http.StatusForbidden:
			return errors.Wrapf(ErrPermissionDenied, "%s %s", method, path)
		case resp.StatusCode == http.StatusNotFound:
			return errors.Wrapf(ErrNotFound, "%s %s", method, path)
		case IsRetryable(resp.StatusCode):
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: truncate(raw)}
			continue
		default:
			return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: truncate(raw)}
		}
	}
	return errors.Wrapf(lastErr, "gave up after %d attempts", maxAttempts)
}

func truncate(raw []byte) string {
	const limit = 512
	s := string(raw)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func (c *HTTPClient) list(path string, filters url.Values) pageFetch[json.RawMessage] {
	return func(ctx context.Context, offset, limit int) (collectionPage[json.RawMessage], error) {
		q := url.Values{}
		for k, vs := range filters {
			q[k] = vs
		}
		q.Set("offset", fmt.Sprint(offset))
		q.Set("pageSize", fmt.Sprint(limit))
		var page collectionPage[json.RawMessage]
		err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &page)
		return page, err
	}
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func listAll[T any](ctx context.Context, c *HTTPClient, path string, filters url.Values) ([]T, error) {
	raw, err := fetchAll(ctx, c.list(path, filters), defaultPageSize)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](raw)
}
