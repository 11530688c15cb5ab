// Package scraper implements the Scraper loop: fetch each series' FIA
// documents index, parse it, download new PDFs, mirror and rasterize them,
// and persist the results. Its loop shape — tick, do work, sleep the
// remainder of a target interval, poll shutdown throughout — mirrors a
// long-running worker loop.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/model"
	"github.com/ortdev/fianotify/internal/parser"
	"github.com/ortdev/fianotify/internal/rasterizer"
	"github.com/ortdev/fianotify/internal/shutdown"
	"github.com/ortdev/fianotify/internal/telemetry"
)

// Uploader is the subset of objectstore.Store the scraper depends on,
// narrowed to an interface so tests can substitute a fake instead of
// signing real SigV4 requests against a live host.
type Uploader interface {
	MirrorURL(year int, eventTitle, docTitle string) string
	ImageURL(year int, eventTitle string, documentID int64, page int) string
	PutPDF(ctx context.Context, dest string, body []byte) error
	PutImage(ctx context.Context, dest string, body []byte) error
}

// cacheRevalidation bounds how often the in-memory cache reloads from the
// store; fresh inserts are still visible immediately since they're appended
// to the cache as they're created.
const cacheRevalidation = 24 * time.Hour

// localCache is a denormalized view of one series' events and document
// hrefs for the current year, kept across ticks, avoiding a query per
// document.
type localCache struct {
	hrefs         map[string]struct{}
	events        map[string]model.Event // key: title
	lastPopulated time.Time
}

func newLocalCache() *localCache {
	return &localCache{hrefs: map[string]struct{}{}, events: map[string]model.Event{}}
}

// Scraper runs one tick of the Scraper loop per call to Run's inner loop.
type Scraper struct {
	Store      *db.DB
	Objects    Uploader
	Rasterizer rasterizer.Invoker
	HTTPClient *http.Client
	Shutdown   *shutdown.Flag
	Telemetry  telemetry.Sink
	TmpDir     string

	IntervalSeconds int

	caches map[model.Series]*localCache
}

// New builds a Scraper with sane defaults for the HTTP client.
func New(store *db.DB, objects Uploader, rast rasterizer.Invoker, sd *shutdown.Flag, sink telemetry.Sink, tmpDir string, intervalSeconds int) *Scraper {
	return &Scraper{
		Store:           store,
		Objects:         objects,
		Rasterizer:      rast,
		HTTPClient:      &http.Client{Timeout: 2 * time.Minute},
		Shutdown:        sd,
		Telemetry:       sink,
		TmpDir:          tmpDir,
		IntervalSeconds: intervalSeconds,
		caches:          map[model.Series]*localCache{},
	}
}

// Run executes ticks until the shutdown flag is set.
func (s *Scraper) Run(ctx context.Context) error {
	for !s.Shutdown.Requested() {
		start := time.Now()

		for _, series := range model.AllSeries {
			if s.Shutdown.Requested() {
				break
			}
			s.tickSeries(ctx, series)
		}

		elapsed := time.Since(start)
		target := time.Duration(s.IntervalSeconds) * time.Second
		sleepFor := target - elapsed
		if sleepFor < time.Second {
			sleepFor = time.Second
		}
		s.sleepPollingShutdown(sleepFor)
	}
	return nil
}

func (s *Scraper) sleepPollingShutdown(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if s.Shutdown.Requested() {
			return
		}
		step := 500 * time.Millisecond
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		if step > 0 {
			time.Sleep(step)
		}
	}
}

func (s *Scraper) cacheFor(series model.Series) *localCache {
	c, ok := s.caches[series]
	if !ok {
		c = newLocalCache()
		s.caches[series] = c
	}
	return c
}

// reconcileCache reloads a series' events and document hrefs for the
// current year from the store, but only once per cacheRevalidation window.
func (s *Scraper) reconcileCache(year int, series model.Series) {
	c := s.cacheFor(series)
	if time.Since(c.lastPopulated) < cacheRevalidation {
		return
	}

	events, err := s.Store.ListEventsByStatus(model.EventNotAllowed)
	if err != nil {
		logrus.WithError(err).WithField("series", series).Warn("cache: list events by status")
		return
	}
	allowed, err := s.Store.ListEventsByStatus(model.EventAllowed)
	if err != nil {
		logrus.WithError(err).WithField("series", series).Warn("cache: list allowed events")
		return
	}
	events = append(events, allowed...)

	for _, e := range events {
		if e.Series != series || e.Year != year {
			continue
		}
		c.events[e.Title] = e
		docs, err := s.Store.ListDocumentsByEventAndStatus(e.ID, model.DocumentReadyToPost)
		if err != nil {
			continue
		}
		for _, d := range docs {
			c.hrefs[d.Href] = struct{}{}
		}
	}
	c.lastPopulated = time.Now()
	logrus.WithField("series", series).WithField("events", len(c.events)).Info("scraper cache repopulated")
}

func (s *Scraper) tickSeries(ctx context.Context, series model.Series) {
	year := time.Now().Year()
	s.reconcileCache(year, series)

	resp, err := s.HTTPClient.Get(series.SourceURL(seasonRange(year)))
	if err != nil {
		s.Telemetry.Capture(fmt.Errorf("fetch index for %s: %w", series, err), map[string]string{"series": string(series)})
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.Telemetry.Capture(fmt.Errorf("fetch index for %s: status %d", series, resp.StatusCode), map[string]string{"series": string(series)})
		return
	}

	season := parser.Parse(resp.Body, year)
	counter := 0

	for _, ev := range season.Events {
		if s.Shutdown.Requested() {
			return
		}
		dbEvent := s.reconcileEvent(series, year, ev)

		for _, doc := range ev.Documents {
			if s.Shutdown.Requested() {
				return
			}
			counter++
			s.processDocument(ctx, series, year, dbEvent, ev.Title, doc, counter)
		}

		if err := clearTmpDir(s.TmpDir); err != nil {
			logrus.WithError(err).Warn("scraper: clear tmp dir")
		}
	}
}

func (s *Scraper) reconcileEvent(series model.Series, year int, ev parser.Event) model.Event {
	c := s.cacheFor(series)
	if cached, ok := c.events[ev.Title]; ok {
		return cached
	}

	if existing, err := s.Store.FindEvent(series, year, ev.Title); err == nil && existing != nil {
		c.events[ev.Title] = *existing
		return *existing
	}

	e := model.Event{Title: ev.Title, Year: year, Series: series, Status: model.EventNotAllowed, CreatedAt: time.Now().UTC()}
	id, err := s.Store.InsertEvent(&e)
	if err != nil {
		logrus.WithError(err).WithField("title", ev.Title).Error("scraper: insert event")
		return e
	}
	e.ID = id
	c.events[ev.Title] = e
	return e
}

func (s *Scraper) processDocument(ctx context.Context, series model.Series, year int, ev model.Event, eventTitle string, doc parser.Document, counter int) {
	c := s.cacheFor(series)
	if _, seen := c.hrefs[doc.Href]; seen {
		return
	}
	if existing, err := s.Store.FindDocumentByHref(doc.Href); err == nil && existing != nil {
		c.hrefs[doc.Href] = struct{}{}
		return
	}

	pdfPath := filepath.Join(s.TmpDir, fmt.Sprintf("doc_%d.pdf", counter))
	body, err := downloadFile(ctx, s.HTTPClient, doc.Href, pdfPath)
	if err != nil {
		s.Telemetry.Capture(fmt.Errorf("download %s: %w", doc.Href, err), map[string]string{"series": string(series)})
		return
	}

	mirrorURL := s.Objects.MirrorURL(year, eventTitle, doc.Title)
	if err := s.Objects.PutPDF(ctx, mirrorURL, body); err != nil {
		s.Telemetry.Capture(fmt.Errorf("upload mirror for %s: %w", doc.Href, err), map[string]string{"series": string(series)})
		return
	}

	dbDoc := model.Document{
		EventID:   ev.ID,
		Title:     doc.Title,
		Href:      doc.Href,
		Mirror:    mirrorURL,
		Status:    model.DocumentInitial,
		CreatedAt: time.Now().UTC(),
	}
	docID, err := s.Store.InsertDocument(&dbDoc)
	if err != nil {
		logrus.WithError(err).WithField("href", doc.Href).Error("scraper: insert document")
		return
	}
	c.hrefs[doc.Href] = struct{}{}

	outputDir := filepath.Join(s.TmpDir, fmt.Sprintf("doc_%d", counter))
	pages, err := s.Rasterizer.Rasterize(ctx, pdfPath, outputDir)
	if err != nil {
		s.Telemetry.Capture(fmt.Errorf("rasterize %s: %w", doc.Href, err), map[string]string{"series": string(series)})
		return
	}

	for page, path := range pages {
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("scraper: read rendered page")
			continue
		}
		imageURL := s.Objects.ImageURL(year, eventTitle, docID, page)
		if err := s.Objects.PutImage(ctx, imageURL, data); err != nil {
			s.Telemetry.Capture(fmt.Errorf("upload image for doc %d page %d: %w", docID, page, err), map[string]string{"series": string(series)})
			continue
		}
		img := model.Image{DocumentID: docID, PageNumber: page, URL: imageURL, CreatedAt: time.Now().UTC()}
		if _, err := s.Store.InsertImage(&img); err != nil {
			logrus.WithError(err).Error("scraper: insert image")
		}
	}

	if err := s.Store.UpdateDocumentStatus(docID, model.DocumentReadyToPost); err != nil {
		logrus.WithError(err).WithField("document_id", docID).Error("scraper: mark document ready")
	}
}

func downloadFile(ctx context.Context, client *http.Client, href, dest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}
	return body, nil
}

func clearTmpDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// seasonRange builds the archive-page year range the FIA site groups its
// season index pages under, e.g. "season-2024-2043".
func seasonRange(year int) string {
	return fmt.Sprintf("season-%d-%d", year, year+19)
}
