package metainfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/torrent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultMaxSize bounds how much metadata is read from a single source.
	DefaultMaxSize = 10 * 1024 * 1024
	// DefaultFetchTimeout matches the timeout indexers are usually given.
	DefaultFetchTimeout = 30 * time.Second
)

// Source is a resolved job source ready for submission to a backend.
type Source struct {
	Hash   string
	Name   string
	Size   int64
	Raw    []byte // metadata bytes; nil when the source is a magnet reference
	Magnet string
}

// IsMagnet reports whether the backend should be handed the magnet URI instead of
// the metadata bytes.
func (s *Source) IsMagnet() bool {
	return s.Magnet != ""
}

// FetchRecorder receives the outcome of every remote metadata fetch.
type FetchRecorder interface {
	RecordMetadataFetch(ctx context.Context, outcome string)
}

// Resolver turns job locators into fingerprinted sources.
type Resolver struct {
	httpClient *http.Client
	maxSize    int64
	recorder   FetchRecorder
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient replaces the client used for remote locators.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithMaxSize bounds the metadata read from any source.
func WithMaxSize(n int64) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// WithRecorder reports fetch outcomes to rec.
func WithRecorder(rec FetchRecorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = rec
	}
}

// NewResolver returns a Resolver. Without WithHTTPClient it uses an instrumented
// client with DefaultFetchTimeout.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{maxSize: DefaultMaxSize}

	for _, opt := range opts {
		opt(r)
	}

	if r.httpClient == nil {
		r.httpClient = &http.Client{
			Timeout:   DefaultFetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	// Copy so the caller's client keeps its own redirect policy.
	c := *r.httpClient
	c.CheckRedirect = stopAtMagnet
	r.httpClient = &c

	return r
}

// Resolve fetches and fingerprints the source of job.
func (r *Resolver) Resolve(ctx context.Context, job torrent.Job) (*Source, error) {
	logger := logctx.LoggerFromContext(ctx).With("title", job.Title, "protocol", job.Protocol)

	locator := strings.TrimSpace(job.DownloadURL)
	if locator == "" {
		return nil, &torrent.MalformedMetadataError{Reason: "job has no download url"}
	}

	if IsMagnet(locator) {
		return r.fromMagnet(job, locator)
	}

	raw, magnet, err := r.read(ctx, locator)
	if err != nil {
		return nil, err
	}

	if magnet != "" {
		logger.DebugContext(ctx, "source redirected to magnet")

		return r.fromMagnet(job, magnet)
	}

	src, err := fromRaw(job, raw)
	if err != nil {
		var malformed *torrent.MalformedMetadataError
		if errors.As(err, &malformed) && malformed.Source == "" {
			malformed.Source = locator
		}

		return nil, err
	}

	logger.DebugContext(ctx, "resolved job source",
		"hash", src.Hash,
		"name", src.Name,
		"size", humanize.Bytes(uint64(src.Size)),
		"metadata_size", humanize.Bytes(uint64(len(raw))),
	)

	return src, nil
}

func (r *Resolver) fromMagnet(job torrent.Job, uri string) (*Source, error) {
	if job.Protocol == torrent.ProtocolUsenet {
		return nil, &torrent.MalformedMetadataError{Source: uri, Reason: "magnet reference given for usenet job"}
	}

	m, err := ParseMagnet(uri)
	if err != nil {
		return nil, err
	}

	return &Source{Hash: m.InfoHash, Name: m.Name, Magnet: m.URI}, nil
}

func fromRaw(job torrent.Job, raw []byte) (*Source, error) {
	if job.Protocol == torrent.ProtocolUsenet {
		n, err := ParseNZB(raw)
		if err != nil {
			return nil, err
		}

		return &Source{Hash: n.Hash, Name: job.Title, Size: n.Size, Raw: raw}, nil
	}

	mi, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	return &Source{Hash: mi.InfoHash, Name: mi.Name, Size: mi.Size, Raw: raw}, nil
}

// read returns the metadata bytes, or a magnet URI when the remote answers with a
// redirect to one.
func (r *Resolver) read(ctx context.Context, locator string) ([]byte, string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, "", &torrent.MalformedMetadataError{Source: locator, Reason: "invalid download url", Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return r.fetch(ctx, locator)
	case "file":
		raw, err := r.readFile(u.Path)

		return raw, "", err
	case "":
		raw, err := r.readFile(locator)

		return raw, "", err
	}

	return nil, "", &torrent.MalformedMetadataError{Source: locator, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
}

func (r *Resolver) fetch(ctx context.Context, locator string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, "", &torrent.MalformedMetadataError{Source: locator, Reason: "invalid download url", Err: err}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.record(ctx, "unreachable")

		return nil, "", &torrent.SourceUnreachableError{Source: locator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); IsMagnet(loc) {
			r.record(ctx, "magnet_redirect")

			return nil, loc, nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.record(ctx, "unreachable")

		return nil, "", &torrent.SourceUnreachableError{Source: locator, StatusCode: resp.StatusCode}
	}

	raw, err := r.readLimited(locator, resp.Body)
	if err != nil {
		r.record(ctx, "invalid")

		return nil, "", err
	}

	r.record(ctx, "success")

	return raw, "", nil
}

func (r *Resolver) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &torrent.SourceUnreachableError{Source: path, Err: err}
	}
	defer f.Close()

	return r.readLimited(path, f)
}

func (r *Resolver) readLimited(source string, rd io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(rd, r.maxSize+1))
	if err != nil {
		return nil, &torrent.SourceUnreachableError{Source: source, Err: err}
	}

	if int64(len(raw)) > r.maxSize {
		return nil, &torrent.MalformedMetadataError{
			Source: source,
			Reason: fmt.Sprintf("metadata exceeds maximum size of %s", humanize.Bytes(uint64(r.maxSize))),
		}
	}

	return raw, nil
}

func (r *Resolver) record(ctx context.Context, outcome string) {
	if r.recorder != nil {
		r.recorder.RecordMetadataFetch(ctx, outcome)
	}
}

func stopAtMagnet(req *http.Request, via []*http.Request) error {
	if strings.EqualFold(req.URL.Scheme, "magnet") {
		return http.ErrUseLastResponse
	}

	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}

	return nil
}
