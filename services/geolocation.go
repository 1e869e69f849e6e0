package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/oschwald/geoip2-golang"
	log "github.com/sirupsen/logrus"
)

// Location is the coarse position recorded next to an audited IP address.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

type GeolocationService struct {
	appContext.DefaultService

	reader      *geoip2.Reader
	httpClient  *http.Client
	apiURL      string
	redisSvc    *RedisService
	cacheExpiry time.Duration
}

const GEOLOCATION_SVC = "geolocation_svc"

const geolocationKeyPrefix = "geolocation:"

func (svc GeolocationService) Id() string {
	return GEOLOCATION_SVC
}

// Configure prefers a local MaxMind database (GEOIP_DB_PATH) and falls back to the HTTP lookup API.
func (svc *GeolocationService) Configure(ctx *appContext.Context) error {
	svc.httpClient = &http.Client{
		Timeout: 2 * time.Second,
	}
	svc.apiURL = os.Getenv("GEOLOCATION_API_URL")
	svc.cacheExpiry = 24 * time.Hour
	svc.redisSvc, _ = ctx.Service(REDIS_SVC).(*RedisService)

	if path := os.Getenv("GEOIP_DB_PATH"); path != "" {
		reader, err := geoip2.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open GeoIP database: %w", err)
		}
		svc.reader = reader
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *GeolocationService) Start() error {
	if svc.reader == nil && svc.apiURL == "" {
		log.Warn("Geolocation has no GeoIP database or API configured, lookups disabled")
	}
	return nil
}

func (svc *GeolocationService) Shutdown() {
	if svc.reader != nil {
		_ = svc.reader.Close()
	}
}

// Locate resolves ip to a country and city. Internal addresses resolve to an empty location.
func (svc *GeolocationService) Locate(ctx context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Location{}, shared.NewValidationError("ip", "invalid IP address")
	}
	if isInternalIP(parsed) {
		return Location{}, nil
	}

	cacheKey := geolocationKeyPrefix + parsed.String()
	if cached, ok := svc.cached(ctx, cacheKey); ok {
		return cached, nil
	}

	var (
		location Location
		err      error
	)
	switch {
	case svc.reader != nil:
		location, err = svc.lookupDatabase(parsed)
	case svc.apiURL != "":
		location, err = svc.lookupAPI(ctx, parsed.String())
	default:
		return Location{}, nil
	}
	if err != nil {
		return Location{}, err
	}

	svc.store(ctx, cacheKey, location)
	return location, nil
}

func (svc *GeolocationService) lookupDatabase(ip net.IP) (Location, error) {
	record, err := svc.reader.City(ip)
	if err != nil {
		return Location{}, err
	}
	return Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}, nil
}

func (svc *GeolocationService) lookupAPI(ctx context.Context, ip string) (Location, error) {
	url := fmt.Sprintf("%s/%s?fields=status,country,city", strings.TrimRight(svc.apiURL, "/"), ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, err
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geolocation API returned status %d", resp.StatusCode)
	}

	var result struct {
		Status  string `json:"status"`
		Country string `json:"country"`
		City    string `json:"city"`
	}
	if err := shared.JSON().NewDecoder(resp.Body).Decode(&result); err != nil {
		return Location{}, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	if result.Status != "success" {
		return Location{}, fmt.Errorf("geolocation lookup failed: %s", result.Status)
	}

	return Location{Country: result.Country, City: result.City}, nil
}

func (svc *GeolocationService) cached(ctx context.Context, key string) (Location, bool) {
	raw, err := svc.redisSvc.Get(ctx, key)
	if err != nil || raw == nil {
		return Location{}, false
	}
	var location Location
	if err := shared.JSON().Unmarshal(raw, &location); err != nil {
		return Location{}, false
	}
	return location, true
}

func (svc *GeolocationService) store(ctx context.Context, key string, location Location) {
	raw, err := shared.JSON().Marshal(location)
	if err != nil {
		return
	}
	if err := svc.redisSvc.Set(ctx, key, raw, svc.cacheExpiry); err != nil {
		log.WithError(err).WithField("key", key).Debug("Failed to cache geolocation result")
	}
}

// ClearCache drops every cached lookup.
func (svc *GeolocationService) ClearCache(ctx context.Context) error {
	keys, err := svc.redisSvc.Keys(ctx, geolocationKeyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return svc.redisSvc.Delete(ctx, keys...)
	}
	return nil
}
