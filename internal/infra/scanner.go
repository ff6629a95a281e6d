package infra

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

const (
	sidebarSelector = `div[data-visualcompletion="ignore-dynamic"] a[role="link"]`
	articleSelector = `div[role="main"] div[role="article"]`
)

var (
	profileIDPattern  = regexp.MustCompile(`/profile\.php\?id=(\d+)`)
	timeMarkerPattern = regexp.MustCompile(`^\d+[hm]$`)
	slugPattern       = regexp.MustCompile(`[^a-z0-9]`)

	skippedNameParts = []string{"group", "event", "reel", "stories"}
	skippedHrefParts = []string{"/groups/", "/events/", "/reels/", "/stories/", "/bookmarks/"}

	// First path segments that never name a person.
	reservedSegments = map[string]bool{
		"friends": true, "profile.php": true, "groups": true, "events": true,
		"reels": true, "stories": true, "bookmarks": true, "watch": true,
		"marketplace": true, "gaming": true, "pages": true, "messages": true,
	}
)

// ParseContacts extracts contacts from a page's HTML. Sidebar links are tried
// first and the friend-list articles only when the sidebar yields nothing.
// The result is de-duplicated by id, first occurrence wins.
func ParseContacts(r io.Reader) ([]domain.Contact, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	p := &parse{seen: map[string]bool{}, names: map[string]int{}}
	doc.Find(sidebarSelector).Each(func(_ int, s *goquery.Selection) {
		p.sidebarLink(s)
	})
	if len(p.contacts) == 0 {
		doc.Find(articleSelector).Each(func(_ int, s *goquery.Selection) {
			p.article(s)
		})
	}
	return p.contacts, nil
}

type parse struct {
	contacts []domain.Contact
	seen     map[string]bool
	names    map[string]int
}

func (p *parse) sidebarLink(s *goquery.Selection) {
	name := strings.TrimSpace(s.Find(`span[dir="auto"]`).First().Text())
	if name == "" || skipName(name) {
		return
	}
	href, _ := s.Attr("href")
	if skipHref(href) {
		return
	}
	p.add(href, name)
}

func (p *parse) article(s *goquery.Selection) {
	var name string
	for _, sel := range []string{`span[dir="auto"]`, "h2", "h3", "strong"} {
		if name = strings.TrimSpace(s.Find(sel).First().Text()); name != "" {
			break
		}
	}
	if name == "" {
		return
	}

	link := s.Find(`a[href*="/friends/"]`).First()
	if link.Length() == 0 {
		link = s.Find(`a[href*="/profile.php"]`).First()
	}
	if link.Length() == 0 {
		link = s.Find(`a[role="link"]`).First()
	}
	if link.Length() == 0 {
		return
	}
	href, _ := link.Attr("href")
	p.add(href, name)
}

func (p *parse) add(href, name string) {
	id := contactID(href)
	if id == "" {
		id = SyntheticID(name, p.names[name])
		p.names[name]++
	}
	if p.seen[id] {
		return
	}
	p.seen[id] = true
	p.contacts = append(p.contacts, domain.Contact{ID: id, DisplayName: name})
}

func skipName(name string) bool {
	for _, part := range skippedNameParts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return timeMarkerPattern.MatchString(name) || utf8.RuneCountInString(name) < 3
}

func skipHref(href string) bool {
	if href == "/" {
		return true
	}
	for _, part := range skippedHrefParts {
		if strings.Contains(href, part) {
			return true
		}
	}
	return false
}

// contactID returns the external id encoded in href, or "".
func contactID(href string) string {
	if m := profileIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Host != "" && !strings.HasSuffix(strings.ToLower(u.Host), "facebook.com") {
		return ""
	}
	if u.Host == "" && !strings.HasPrefix(href, "/") {
		return ""
	}
	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if segment == "" || reservedSegments[strings.ToLower(segment)] {
		return ""
	}
	return segment
}

// SyntheticID derives an id for a contact without an external one. The
// occurrence index separates contacts sharing a display name.
//
// The suffix is a name-based UUID of name and occurrence, not a random one, so
// re-scanning an unchanged page yields the same ids and the bulk loader can
// de-duplicate across scans. Two scans of pages that order same-named
// contacts differently may swap their ids.
func SyntheticID(name string, occurrence int) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "_")
	sum := uuid.NewSHA1(uuid.NameSpaceURL, []byte(name+"#"+strconv.Itoa(occurrence)))
	return domain.SyntheticPrefix + slug + "_" + sum.String()[:8]
}

// ContactDirectory remembers the display names of scanned contacts so the
// executor can find a card by name when its id is synthetic.
type ContactDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewContactDirectory creates an empty directory.
func NewContactDirectory() *ContactDirectory {
	return &ContactDirectory{names: map[string]string{}}
}

// Remember records contacts, replacing earlier names for the same id.
func (d *ContactDirectory) Remember(contacts []domain.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range contacts {
		d.names[c.ID] = c.DisplayName
	}
}

// Name returns the remembered display name of id.
func (d *ContactDirectory) Name(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[id]
	return name, ok
}

// ScannerConfig tunes the pre-scan sidebar scrolling.
type ScannerConfig struct {
	SidebarScrolls int           // Sidebar scrolls before reading the page
	ScrollSettle   time.Duration // Wait after each scroll
}

// DefaultScannerConfig returns the defaults: ten scrolls, half a second apart.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{SidebarScrolls: 10, ScrollSettle: 500 * time.Millisecond}
}

// ContactScanner implements domain.Scanner over a browser page.
type ContactScanner struct {
	page      Page
	directory *ContactDirectory
	config    ScannerConfig
	logger    *zap.Logger
}

// NewContactScanner creates a scanner. directory may be nil.
func NewContactScanner(page Page, directory *ContactDirectory, config ScannerConfig, logger *zap.Logger) *ContactScanner {
	return &ContactScanner{page: page, directory: directory, config: config, logger: logger}
}

// Scan scrolls the sidebar to materialise more contacts, then parses the page.
func (s *ContactScanner) Scan(ctx context.Context, target domain.Target) ([]domain.Contact, error) {
	for i := 0; i < s.config.SidebarScrolls; i++ {
		var scrolled bool
		if err := s.page.Eval(ctx, scrollSidebarScript(), &scrolled); err != nil {
			s.logger.Warn("failed to scroll sidebar", zap.Error(err))
			break
		}
		if !scrolled {
			break
		}
		if err := sleepCtx(ctx, s.config.ScrollSettle); err != nil {
			return nil, err
		}
	}

	html, err := s.page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := ParseContacts(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, domain.ErrNoContacts
	}
	if s.directory != nil {
		s.directory.Remember(contacts)
	}

	s.logger.Info("scan complete",
		zap.String("url", target.URL),
		zap.Int("contacts", len(contacts)))
	return contacts, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ domain.Scanner = (*ContactScanner)(nil)
