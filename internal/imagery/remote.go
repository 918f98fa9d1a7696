package imagery

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // tile decoders
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/time/rate"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/httpclient"
	"github.com/tphakala/forestwatch/internal/logger"
)

const (
	remoteProviderName = "remote"
	maxTileBytes       = 16 << 20
	defaultTimeout     = 10 * time.Second
)

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	Transport http.RoundTripper // optional, replaces the pooled transport
}

// RemoteSource resolves coordinates through a tile catalog service. It asks
// {base}/catalog for the tile covering the coordinate and then downloads and
// rescales that tile.
type RemoteSource struct {
	base    *url.URL
	timeout time.Duration
	client  *httpclient.Client
	limiter *rate.Limiter
}

// NewRemoteSource validates cfg and returns a source.
func NewRemoteSource(cfg RemoteConfig) (*RemoteSource, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid imagery base url %q", cfg.BaseURL).
			Component("imagery").
			Category(errors.CategoryConfiguration).
			Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := httpclient.New(httpclient.Config{
		DefaultTimeout: timeout,
		BearerToken:    cfg.APIKey,
		Transport:      cfg.Transport,
	})
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, elapsed time.Duration, err error) {
		if err != nil {
			return
		}
		GetLogger().Debug("imagery request",
			logger.String("path", req.URL.Path),
			logger.Int("status", resp.StatusCode),
			logger.Duration("elapsed", elapsed))
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	GetLogger().Info("remote imagery source initialized",
		logger.String("host", base.Host),
		logger.Float64("rate_limit_rps", cfg.RateLimit),
		logger.Duration("timeout", timeout))

	return &RemoteSource{
		base:    base,
		timeout: timeout,
		client:  client,
		limiter: limiter,
	}, nil
}

// Name implements Source.
func (s *RemoteSource) Name() string { return remoteProviderName }

// Fetch implements Source.
func (s *RemoteSource) Fetch(ctx context.Context, coord Coordinate, bufferSize int) (*Image, error) {
	if bufferSize <= 0 {
		return nil, unavailable(s.Name(), coord, fmt.Errorf("invalid buffer size %d", bufferSize))
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable(s.Name(), coord, err)
		}
	}

	tileURL, acquired, err := s.lookupTile(ctx, coord, bufferSize)
	if err != nil {
		return nil, s.fetchError(ctx, coord, err)
	}

	src, err := s.downloadTile(ctx, tileURL)
	if err != nil {
		return nil, s.fetchError(ctx, coord, err)
	}

	GetLogger().Debug("tile fetched",
		logger.String("acquired", acquired),
		logger.Int("width", src.Bounds().Dx()),
		logger.Int("height", src.Bounds().Dy()))

	return FromImage(src), nil
}

func (s *RemoteSource) fetchError(ctx context.Context, coord Coordinate, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	GetLogger().Warn("remote image fetch failed", logger.Error(err))
	return unavailable(s.Name(), coord, err)
}

// lookupTile queries the catalog and returns the absolute tile URL and its
// acquisition date, which may be empty.
func (s *RemoteSource) lookupTile(ctx context.Context, coord Coordinate, bufferSize int) (tileURL, acquired string, err error) {
	catalog := s.base.JoinPath("catalog")
	q := catalog.Query()
	q.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	q.Set("buffer", strconv.Itoa(bufferSize))
	catalog.RawQuery = q.Encode()

	body, err := s.get(ctx, catalog.String())
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	obj, err := jason.NewObjectFromReader(io.LimitReader(body, maxTileBytes))
	if err != nil {
		return "", "", fmt.Errorf("decode catalog response: %w", err)
	}

	raw, err := obj.GetString("tile", "url")
	if err != nil || raw == "" {
		return "", "", errors.NewStd("catalog response has no tile for coordinate")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid tile url: %w", err)
	}

	acquired, _ = obj.GetString("tile", "acquired")
	return s.base.ResolveReference(ref).String(), acquired, nil
}

func (s *RemoteSource) downloadTile(ctx context.Context, tileURL string) (image.Image, error) {
	body, err := s.get(ctx, tileURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	img, _, err := image.Decode(io.LimitReader(body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return img, nil
}

func (s *RemoteSource) get(ctx context.Context, target string) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, target)
	if err != nil {
		return nil, errors.New(err).
			Component("imagery").
			Category(errors.CategoryNetwork).
			NetworkContext(target, s.timeout).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf("unexpected status %d", resp.StatusCode).
			Component("imagery").
			Category(errors.CategoryHTTP).
			NetworkContext(target, s.timeout).
			Context("status_code", resp.StatusCode).
			Build()
	}
	return resp.Body, nil
}
