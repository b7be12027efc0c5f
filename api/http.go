package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// HTTPResponse is what a plugin sees from an outbound request.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// HTTPAPI is the outbound HTTP capability variant. Every request needs
// the network_access grant and a target host on the administrator's
// allow-list; with no allow-list configured every host is denied.
type HTTPAPI struct {
	core   *scope
	client *http.Client
}

// Get performs a GET request.
func (a *HTTPAPI) Get(rawURL string, headers map[string]string) (*HTTPResponse, error) {
	return a.do(http.MethodGet, rawURL, "", "", headers)
}

// Post performs a POST request with the given body.
func (a *HTTPAPI) Post(rawURL, body, contentType string, headers map[string]string) (*HTTPResponse, error) {
	if contentType == "" {
		contentType = "application/json"
	}
	return a.do(http.MethodPost, rawURL, body, contentType, headers)
}

func (a *HTTPAPI) do(method, rawURL, body, contentType string, headers map[string]string) (*HTTPResponse, error) {
	if err := a.core.count(); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, a.core.fail(fmt.Errorf("invalid url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, a.core.fail(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if err := a.core.checker.CheckNetwork(u.Host); err != nil {
		return nil, a.core.fail(err)
	}
	if !a.core.monitor.TryNetworkRequest() {
		return nil, a.core.fail(fmt.Errorf("%w: http request", security.ErrRateLimited))
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(a.core.context(), method, rawURL, reader)
	if err != nil {
		return nil, a.core.fail(fmt.Errorf("build request: %v", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.core.fail(fmt.Errorf("request failed: %v", err))
	}
	defer resp.Body.Close()

	limit := a.core.monitor.Limits().MaxHTTPResponseSize
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, a.core.fail(fmt.Errorf("read response: %v", err))
	}
	if int64(len(data)) > limit {
		return nil, a.core.fail(fmt.Errorf("response body exceeds %d bytes", limit))
	}
	a.core.monitor.AddHTTPBytes(int64(len(data)))

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return &HTTPResponse{
		Status:  resp.StatusCode,
		Body:    string(data),
		Headers: respHeaders,
	}, nil
}

func (a *HTTPAPI) module(bridge *lua.Bridge) map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"get": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			rawURL, err := stringArg(args, 0, "url")
			if err != nil {
				return nil, err
			}
			headers, err := stringMapArg(args, 1, "headers")
			if err != nil {
				return nil, err
			}
			resp, err := a.Get(rawURL, headers)
			if err != nil {
				return nil, err
			}
			return resp, nil
		}),
		"post": bridge.WrapGoFunc(func(args []interface{}) (interface{}, error) {
			rawURL, err := stringArg(args, 0, "url")
			if err != nil {
				return nil, err
			}
			body, err := stringArg(args, 1, "body")
			if err != nil {
				return nil, err
			}
			contentType, err := optionalStringArg(args, 2, "content_type")
			if err != nil {
				return nil, err
			}
			headers, err := stringMapArg(args, 3, "headers")
			if err != nil {
				return nil, err
			}
			resp, err := a.Post(rawURL, body, contentType, headers)
			if err != nil {
				return nil, err
			}
			return resp, nil
		}),
	}
}
