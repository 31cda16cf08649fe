package pricing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// FixedSource serves prices from a static table. It suits test setups and
// assets pegged at a known rate.
type FixedSource struct {
	prices map[string]float64
}

// NewFixedSource creates a source backed by the given asset to price table.
func NewFixedSource(prices map[string]float64) *FixedSource {
	fixed := make(map[string]float64, len(prices))
	for asset, price := range prices {
		fixed[asset] = price
	}
	return &FixedSource{prices: fixed}
}

// BitcoinPrice returns the configured price for the asset.
func (s *FixedSource) BitcoinPrice(assetID string) (float64, error) {
	price, ok := s.prices[assetID]
	if !ok {
		return 0, ErrNoPrice
	}
	return price, nil
}

// HTTPSource fetches prices from an external feed. The feed is queried with
// a GET request carrying the asset id and replies with a JSON object
// holding a price field.
type HTTPSource struct {
	feedURL string
	client  *http.Client
}

// NewHTTPSource creates a source querying the given feed URL.
func NewHTTPSource(feedURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		feedURL: feedURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type priceReply struct {
	Price float64 `json:"price"`
}

// BitcoinPrice queries the feed for the asset's price.
func (s *HTTPSource) BitcoinPrice(assetID string) (float64, error) {
	resp, err := s.client.Get(s.feedURL + "?asset=" + url.QueryEscape(assetID))
	if err != nil {
		return 0, fmt.Errorf("price feed request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNoPrice
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price feed returned status %v", resp.Status)
	}

	var reply priceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("malformed price feed reply: %v", err)
	}
	if reply.Price <= 0 {
		return 0, ErrNoPrice
	}
	return reply.Price, nil
}

// CachedSource wraps another source with a small LRU cache so a burst of
// quote requests does not hammer the upstream feed. Entries expire after a
// fixed interval; failures are never cached.
type CachedSource struct {
	source Source
	cache  *lru.Cache
	ttl    time.Duration
}

type cachedPrice struct {
	price   float64
	fetched time.Time
}

// NewCachedSource wraps the source with a cache of the given capacity and
// entry lifetime.
func NewCachedSource(source Source, size int, ttl time.Duration) (*CachedSource, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedSource{source: source, cache: cache, ttl: ttl}, nil
}

// BitcoinPrice returns the cached price when fresh and falls through to the
// wrapped source otherwise.
func (s *CachedSource) BitcoinPrice(assetID string) (float64, error) {
	if entry, ok := s.cache.Get(assetID); ok {
		cached := entry.(cachedPrice)
		if time.Since(cached.fetched) < s.ttl {
			return cached.price, nil
		}
		s.cache.Remove(assetID)
	}

	price, err := s.source.BitcoinPrice(assetID)
	if err != nil {
		return 0, err
	}
	s.cache.Add(assetID, cachedPrice{price: price, fetched: time.Now()})
	log.Debugf("Cached price %v for asset %v", price, assetID)
	return price, nil
}
