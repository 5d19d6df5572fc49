package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studiorelay/pkg/logx"
)

const maxRedirects = 5

// ErrBadUpstream reports an upstream response that cannot be relayed.
var ErrBadUpstream = errors.New("media: upstream request failed")

// Proxy fetches remote videos by id and streams them to overlay clients.
// Redirect chains are followed up to maxRedirects hops and then refused.
type Proxy struct {
	upstream string
	client   *http.Client
	log      logx.Logger
}

// ValidateUpstream checks the URL template: empty (proxy disabled) or
// exactly one %s placeholder for the video id.
func ValidateUpstream(upstream string) error {
	if upstream == "" {
		return nil
	}
	if strings.Count(upstream, "%s") != 1 || strings.Count(upstream, "%") != 1 {
		return fmt.Errorf("media: video upstream template must contain exactly one %%s: %q", upstream)
	}
	return nil
}

func NewProxy(upstream string, log logx.Logger) (*Proxy, error) {
	if err := ValidateUpstream(upstream); err != nil {
		return nil, err
	}
	return &Proxy{
		upstream: upstream,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		log: log,
	}, nil
}

func (p *Proxy) Enabled() bool { return p.upstream != "" }

// Stream copies the upstream body for the given id to w, forwarding the
// upstream content type and length headers.
func (p *Proxy) Stream(ctx context.Context, w http.ResponseWriter, id string) error {
	if !p.Enabled() {
		return fmt.Errorf("%w: no upstream configured", ErrBadUpstream)
	}
	target := fmt.Sprintf(p.upstream, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadUpstream, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: upstream status %d", ErrBadUpstream, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		// Headers are already out; all we can do is note the broken copy.
		p.log.Warn("video stream interrupted",
			logx.String("id", id), logx.Int64("bytes", n), logx.Err(err))
		return nil
	}
	p.log.Debug("video streamed", logx.String("id", id), logx.Int64("bytes", n))
	return nil
}
