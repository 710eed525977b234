package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/models"
)

// Adapter fetches one stream's current items from an external source.
type Adapter interface {
	Kind() models.SourceKind
	Fetch(ctx context.Context, stream models.StreamConfig) (*models.FetchResult, error)
}

type Registry map[models.SourceKind]Adapter

func NewRegistry(cfg *config.Config, client *http.Client) Registry {
	timeout := cfg.FetchTimeout()
	return newRegistry(
		&Modtale{base{client, timeout}, cfg.ModtaleBaseURL},
		&Curseforge{base{client, timeout}, cfg.CFWidgetBaseURL},
	)
}

func newRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Kind()] = a
	}
	return r
}

// FetchError is returned when a source cannot produce a complete item list.
// Status is the HTTP status for non-2xx responses and zero otherwise.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed with status %d: %s", e.Status, e.Message)
	}
	return "fetch failed: " + e.Message
}

type base struct {
	client  *http.Client
	timeout time.Duration
}

// getJSON issues one GET and decodes the JSON body into v.
func (b base) getJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var status int
	rb := requests.URL(url).
		Client(b.client).
		Accept("application/json").
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			if res.StatusCode < 200 || res.StatusCode > 299 {
				return errors.New(res.Status)
			}
			return nil
		}).
		ToJSON(v)
	for k, val := range headers {
		rb = rb.Header(k, val)
	}

	if err := rb.Fetch(ctx); err != nil {
		fe := &FetchError{Message: err.Error()}
		if status < 200 || status > 299 {
			fe.Status = status
		}
		return fe
	}
	return nil
}

// dedupe keeps the first occurrence of each id.
func dedupe(items models.CandidateItems) models.CandidateItems {
	seen := make(map[string]struct{}, len(items))
	out := make(models.CandidateItems, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexString decodes JSON strings and numbers into a string. Other JSON
// types decode to the empty string so an odd optional field never fails a fetch.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			*f = flexString(strconv.FormatInt(i, 10))
		} else {
			*f = flexString(n.String())
		}
		return nil
	}
	*f = ""
	return nil
}

func (f flexString) String() string { return string(f) }
