package nakadi

import (
	"fmt"
	"io"
	"mime"
	"net/http"
)

const defaultProblemType = "about:blank"

// Problem is an RFC 7807 error body returned by the server.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("problem [%s] with status [%d]: [%s] [%s]", p.Type, p.Status, p.Title, p.Detail)
}

// problemFrom builds a Problem for an error response. JSON bodies are read in
// both the RFC 7807 shape and the OAuth {error, error_description} shape;
// anything else falls back to the status text.
func problemFrom(resp *http.Response) *Problem {
	p := &Problem{Type: defaultProblemType, Title: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "application/problem+json" && mt != "application/json" {
		return p
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return p
	}
	var raw struct {
		Type             *string `json:"type"`
		Title            *string `json:"title"`
		Detail           string  `json:"detail"`
		Instance         string  `json:"instance"`
		Error            *string `json:"error"`
		ErrorDescription *string `json:"error_description"`
	}
	if json.Unmarshal(body, &raw) != nil {
		return p
	}
	switch {
	case raw.Type != nil && raw.Title != nil:
		p.Type, p.Title, p.Detail, p.Instance = *raw.Type, *raw.Title, raw.Detail, raw.Instance
	case raw.Error != nil && raw.ErrorDescription != nil:
		p.Title, p.Detail = *raw.Error, *raw.ErrorDescription
	}
	return p
}

// retryableStatus reports whether opening a stream may succeed later.
// 409 is returned while a subscription has no free partitions.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusConflict
}
