// Package ebird calls the eBird hotspot geo-search endpoint.
package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
)

const (
	minRadiusKm = 1
	maxRadiusKm = 500
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ebird status %d: %s", e.Code, e.Body)
}

type Client struct {
	logger *slog.Logger
	http   *http.Client
	base   *url.URL
	apiKey string
}

func New(logger *slog.Logger, client *http.Client, baseURL, apiKey string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ebird base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ebird base url %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{logger: logger, http: client, base: u, apiKey: apiKey}, nil
}

// wire shape of /ref/hotspot/geo
type hotspotJSON struct {
	LocID             string  `json:"locId"`
	LocName           string  `json:"locName"`
	CountryCode       string  `json:"countryCode"`
	Subnational1Code  string  `json:"subnational1Code"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	LatestObsDt       string  `json:"latestObsDt"`
	NumSpeciesAllTime *int    `json:"numSpeciesAllTime"`
}

// HotspotsNear returns the hotspots within radiusKm of center. The radius is clamped to
// the range the API accepts. Returned records have UpdatedAt unset.
func (c *Client) HotspotsNear(ctx context.Context, center model.LatLng, radiusKm float64) ([]model.Hotspot, error) {
	dist := int(math.Round(radiusKm))
	dist = max(minRadiusKm, min(maxRadiusKm, dist))

	u := *c.base
	u.Path += "/ref/hotspot/geo"
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(center.Lat, 'f', 4, 64))
	q.Set("lng", strconv.FormatFloat(center.Lng, 'f', 4, 64))
	q.Set("dist", strconv.Itoa(dist))
	q.Set("fmt", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-eBirdApiToken", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("ebird_geo", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var raw []hotspotJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode hotspots: %w", err)
	}

	out := make([]model.Hotspot, 0, len(raw))
	for _, h := range raw {
		if strings.TrimSpace(h.LocID) == "" {
			continue
		}
		out = append(out, model.Hotspot{
			ID:                h.LocID,
			Name:              h.LocName,
			CountryCode:       strings.ToUpper(h.CountryCode),
			SubnationalCode:   h.Subnational1Code,
			Lat:               h.Lat,
			Lng:               h.Lng,
			NumSpeciesAllTime: h.NumSpeciesAllTime,
			LatestObsDt:       h.LatestObsDt,
		})
	}
	c.logger.Debug("ebird geo search",
		"center", center.String(), "dist_km", dist, "results", len(out),
		"dur", time.Since(start).String())
	return out, nil
}
