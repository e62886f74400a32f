package sweeps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
)

// SummaryReport summarizes one summary-refresh run.
type SummaryReport struct {
	Scanned       int
	Refreshed     int
	SkippedHuman  int
	SkippedStable int
}

const maxSummaryCategories = 6

// Summary regenerates neutral listing summaries when a summary is missing
// or the site's content fingerprint changed between successful crawls.
// Human-edited summaries are never touched.
type Summary struct {
	store  directory.Store
	logger *zap.Logger
	cfg    config.SweepsConfig
}

// NewSummary wires a summary-refresh sweep.
func NewSummary(store directory.Store, logger *zap.Logger, cfg config.SweepsConfig) *Summary {
	return &Summary{store: store, logger: logger, cfg: cfg}
}

// Run refreshes summaries. A non-empty onlyID restricts the run to that
// listing, which is how the per-listing refresh job invokes it.
func (s *Summary) Run(ctx context.Context, onlyID string) (SummaryReport, error) {
	candidates, err := s.store.Listings().ListSummaryCandidates(ctx, onlyID, s.cfg.MaxSummaryPerRun)
	if err != nil {
		return SummaryReport{}, fmt.Errorf("list summary candidates: %w", err)
	}

	report := SummaryReport{Scanned: len(candidates)}
	for _, l := range candidates {
		if l.DeletedAt != nil || l.OptedOutAt != nil {
			report.SkippedStable++
			continue
		}
		if err := s.refreshOne(ctx, l, &report); err != nil {
			// A single listing failing to refresh is flagged for
			// moderators, never fatal to the rest of the run.
			s.logger.Warn("summary refresh failed",
				zap.String("listing_id", l.ID), zap.Error(err))
			if ferr := s.store.Listings().FlagAttention(ctx, l.ID, directory.ModerationEvent{
				Action:    directory.ActionFlagAttention,
				ActorType: directory.ActorSystem,
				ActorName: "summary-refresh",
				Note:      "System flag: summary_refresh_failed",
			}); ferr != nil {
				s.logger.Error("flag summary failure", zap.String("listing_id", l.ID), zap.Error(ferr))
			}
		}
	}
	return report, nil
}

func (s *Summary) refreshOne(ctx context.Context, l directory.Listing, report *SummaryReport) error {
	prints, err := s.store.Crawls().LatestSuccessFingerprints(ctx, l.ID, 2)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}
	changed := len(prints) == 2 && prints[0] != prints[1]

	hasSummary := strings.TrimSpace(l.Summary) != ""
	if hasSummary && !changed {
		report.SkippedStable++
		return nil
	}

	humanEdited, err := s.store.Events().HumanSummaryEditExists(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("check human edit marker: %w", err)
	}
	if humanEdited && hasSummary {
		report.SkippedHuman++
		return nil
	}

	// An existing summary is only overwritten when the system wrote it in
	// the first place. With no system refresh on record, assume a human did.
	if hasSummary {
		prior, err := s.store.Events().LatestEventAt(ctx, l.ID, directory.ActionRefreshSummary)
		if err != nil {
			return fmt.Errorf("check prior system refresh: %w", err)
		}
		if prior == nil {
			report.SkippedHuman++
			return nil
		}
	}

	text, err := s.buildSummary(ctx, l)
	if err != nil {
		return err
	}
	if err := s.store.Listings().RefreshSummary(ctx, l.ID, text, directory.ModerationEvent{
		Action:    directory.ActionRefreshSummary,
		ActorType: directory.ActorSystem,
		ActorName: "summary-refresh",
		Note:      "System refreshed summary (neutral, factual).",
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	report.Refreshed++
	return nil
}

// buildSummary assembles the neutral template from the listing's stored
// facts: name and domain always, location and categories when on file.
func (s *Summary) buildSummary(ctx context.Context, l directory.Listing) (string, error) {
	parts := []string{fmt.Sprintf(
		"%s is listed in this directory based on information available on its public website (%s).",
		l.DisplayName, l.WebsiteDomain)}

	loc, err := s.store.Geo().PrimaryLocation(ctx, l.ID)
	if err != nil {
		return "", fmt.Errorf("load primary location: %w", err)
	}
	if loc != nil {
		city, state, err := s.store.Geo().CityWithState(ctx, loc.CityID)
		if err != nil {
			return "", fmt.Errorf("resolve location city: %w", err)
		}
		if city != nil && state != nil {
			parts = append(parts, fmt.Sprintf("Location information on file: %s, %s.", city.Name, state.USPSCode))
		}
	}

	cats, err := s.store.Taxonomy().CategoriesForListing(ctx, l.ID)
	if err != nil {
		return "", fmt.Errorf("load listing categories: %w", err)
	}
	if len(cats) > 0 {
		names := make([]string, 0, len(cats))
		for _, c := range cats {
			names = append(names, c.DisplayName)
		}
		sort.Strings(names)
		if len(names) > maxSummaryCategories {
			names = names[:maxSummaryCategories]
		}
		parts = append(parts, "Categories listed: "+strings.Join(names, ", ")+".")
	}

	return strings.Join(parts, " "), nil
}
