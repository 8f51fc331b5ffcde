// ABOUTME: Caching metadata service in front of the REST client
// ABOUTME: Insertion-ordered LRU of track records with separately-lived streaming URLs
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/rest"
)

const (
	cacheCapacity = 100

	// urlTTL is the nominal lifetime of a signed CDN URL.
	urlTTL = 5 * time.Minute

	// urlReuseMargin keeps us from handing out a URL about to expire.
	urlReuseMargin = 30 * time.Second
)

// api is the slice of the REST client the service uses.
type api interface {
	TrackMetadata(ctx context.Context, trackID string) (rest.Metadata, error)
	TrackFileURL(ctx context.Context, trackID string, format quality.ID) (rest.FileURL, error)
}

// Record is one cached track: core metadata plus an optional streaming
// URL with its fetch time and granted quality.
type Record struct {
	TrackID string
	rest.Metadata

	URL           string
	URLFetchedAt  time.Time
	ActualQuality quality.ID
	SampleRate    int
	BitDepth      int
	MimeType      string
}

// URLFresh reports whether the cached streaming URL can still be
// handed out.
func (r *Record) URLFresh(now time.Time) bool {
	return r.URL != "" && now.Before(r.URLFetchedAt.Add(urlTTL-urlReuseMargin))
}

// Service caches track records keyed by track id. Overflowing the
// capacity evicts the oldest insertion.
type Service struct {
	log *slog.Logger
	api api
	now func() time.Time

	mu         sync.Mutex
	entries    map[string]*Record
	order      []string // insertion order, oldest first
	maxQuality quality.ID
}

// NewService returns a service that requests URLs no higher than
// maxQuality.
func NewService(log *slog.Logger, api api, maxQuality quality.ID) *Service {
	return &Service{
		log:        log,
		api:        api,
		now:        time.Now,
		entries:    make(map[string]*Record),
		maxQuality: maxQuality,
	}
}

// SetMaxQuality changes the quality ceiling and invalidates every
// cached streaming URL. Core metadata survives.
func (s *Service) SetMaxQuality(q quality.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q == s.maxQuality {
		return
	}
	s.maxQuality = q
	for _, rec := range s.entries {
		rec.URL = ""
		rec.URLFetchedAt = time.Time{}
	}
	s.log.Info("max quality changed, streaming urls invalidated", "quality", int(q))
}

// MaxQuality returns the current quality ceiling.
func (s *Service) MaxQuality() quality.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxQuality
}

// GetMetadata returns the record for a track, fetching core metadata
// on a cache miss and, when fetchURL is set, ensuring the record holds
// a fresh streaming URL. The returned record is a copy; the cache is
// not exposed for mutation.
func (s *Service) GetMetadata(ctx context.Context, trackID string, fetchURL bool) (Record, error) {
	s.mu.Lock()
	rec, ok := s.entries[trackID]
	s.mu.Unlock()

	if !ok {
		md, err := s.api.TrackMetadata(ctx, trackID)
		if err != nil {
			return Record{}, err
		}
		rec = &Record{TrackID: trackID, Metadata: md}
		s.insert(rec)
	}

	if fetchURL {
		s.mu.Lock()
		fresh := rec.URLFresh(s.now())
		s.mu.Unlock()
		if !fresh {
			if err := s.fetchURL(ctx, rec); err != nil {
				return Record{}, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return *rec, nil
}

// GetStreamingURL is shorthand for GetMetadata with URL fetching.
func (s *Service) GetStreamingURL(ctx context.Context, trackID string) (string, error) {
	rec, err := s.GetMetadata(ctx, trackID, true)
	if err != nil {
		return "", err
	}
	return rec.URL, nil
}

// fetchURL walks the quality ladder downward from the ceiling and
// stores the first URL the server grants.
func (s *Service) fetchURL(ctx context.Context, rec *Record) error {
	max := s.MaxQuality()
	var lastErr error
	for _, q := range quality.All {
		if max.Valid() && q > max {
			continue
		}
		f, err := s.api.TrackFileURL(ctx, rec.TrackID, q)
		if err != nil {
			lastErr = err
			continue
		}
		s.mu.Lock()
		rec.URL = f.URL
		rec.URLFetchedAt = s.now()
		rec.ActualQuality = f.FormatID
		rec.SampleRate = f.SampleRate
		rec.BitDepth = f.BitDepth
		rec.MimeType = f.MimeType
		s.mu.Unlock()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("metadata: no usable quality at ceiling %d", int(max))
	}
	return lastErr
}

// insert adds a record, evicting the oldest insertion on overflow.
func (s *Service) insert(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[rec.TrackID]; exists {
		s.entries[rec.TrackID] = rec
		return
	}
	if len(s.order) >= cacheCapacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	s.entries[rec.TrackID] = rec
	s.order = append(s.order, rec.TrackID)
}
