package beepengine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/domain/resource"
)

// memorySource is a fully downloaded body. It is seekable so the decoder can report a length.
type memorySource struct {
	*bytes.Reader
}

func (memorySource) Close() error { return nil }

// openSource opens the byte stream of res and derives its initial metadata.
func openSource(ctx context.Context, client *http.Client, userAgent string, res resource.Descriptor, downloadFirst bool) (io.ReadCloser, audio.Metadata, error) {
	switch r := res.(type) {
	case *resource.LocalFile:
		if r == nil {
			return nil, nil, errors.New("nil local file")
		}
		f, err := os.Open(r.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open %s", r.Path)
		}
		return f, audio.Metadata{
			"title":  strings.TrimSuffix(filepath.Base(r.Path), filepath.Ext(r.Path)),
			"source": r.String(),
		}, nil
	case resource.Stream:
		return openStream(ctx, client, userAgent, r, downloadFirst)
	case *resource.Stream:
		if r == nil {
			return nil, nil, errors.New("nil stream")
		}
		return openStream(ctx, client, userAgent, *r, downloadFirst)
	default:
		return nil, nil, errors.Newf("unsupported resource type %T", res)
	}
}

func openStream(ctx context.Context, client *http.Client, userAgent string, s resource.Stream, downloadFirst bool) (io.ReadCloser, audio.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URI, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create request")
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to fetch %s", s.URI)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, errors.Newf("failed to fetch %s: unexpected status %s", s.URI, resp.Status)
	}

	md := streamMetadata(s.URI, resp.Header)

	if !downloadFirst {
		return resp.Body, md, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to download %s", s.URI)
	}
	return memorySource{bytes.NewReader(data)}, md, nil
}

// streamMetadata builds metadata from ICY and content headers.
func streamMetadata(uri string, h http.Header) audio.Metadata {
	md := audio.Metadata{"source": uri}

	title := h.Get("icy-name")
	if title == "" {
		if u, err := url.Parse(uri); err == nil && u.Path != "" && u.Path != "/" {
			base := path.Base(u.Path)
			title = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	if title != "" {
		md["title"] = title
	}
	if v := h.Get("icy-genre"); v != "" {
		md["genre"] = v
	}
	if v := h.Get("icy-br"); v != "" {
		md["bitrate"] = v
	}
	if v := h.Get("Content-Type"); v != "" {
		md["content_type"] = v
	}
	return md
}
