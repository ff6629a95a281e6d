package infra

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// ScrollSource implements domain.DiscoverySource by scrolling the page's
// contact list container.
type ScrollSource struct {
	page      Page
	directory *ContactDirectory
	logger    *zap.Logger
}

// NewScrollSource creates a discovery source. directory may be nil.
func NewScrollSource(page Page, directory *ContactDirectory, logger *zap.Logger) *ScrollSource {
	return &ScrollSource{page: page, directory: directory, logger: logger}
}

// Prepare marks the scrollable container. The document itself is used when
// no better candidate exists.
func (s *ScrollSource) Prepare(ctx context.Context) error {
	var kind string
	if err := s.page.Eval(ctx, prepareContainerScript(), &kind); err != nil {
		return err
	}
	if kind == "" {
		return fmt.Errorf("no scrollable element on page")
	}
	s.logger.Debug("scroll container found", zap.String("kind", kind))
	return nil
}

// Extent returns the container's scrollHeight.
func (s *ScrollSource) Extent(ctx context.Context) (int64, error) {
	var height float64
	if err := s.page.Eval(ctx, extentScript(), &height); err != nil {
		return 0, fmt.Errorf("failed to read scroll height: %w", err)
	}
	return int64(height), nil
}

// Advance scrolls the container to its end.
func (s *ScrollSource) Advance(ctx context.Context) error {
	var height float64
	if err := s.page.Eval(ctx, advanceScript(), &height); err != nil {
		return fmt.Errorf("failed to scroll container: %w", err)
	}
	return nil
}

// AdvanceFallback runs the alternate discovery actions.
func (s *ScrollSource) AdvanceFallback(ctx context.Context) error {
	var clicked int
	if err := s.page.Eval(ctx, fallbackScript(), &clicked); err != nil {
		return fmt.Errorf("failed to run fallback discovery: %w", err)
	}
	s.logger.Debug("fallback discovery", zap.Int("buttons_clicked", clicked))
	return nil
}

// ScanVisible parses the contacts currently in the document.
func (s *ScrollSource) ScanVisible(ctx context.Context) ([]domain.Contact, error) {
	html, err := s.page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := ParseContacts(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if s.directory != nil {
		s.directory.Remember(contacts)
	}
	return contacts, nil
}

var _ domain.DiscoverySource = (*ScrollSource)(nil)
