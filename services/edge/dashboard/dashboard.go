// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dashboard aggregates the administrator dashboard from three
// independent backend reads.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/services/edge/bridge"
	"golang.org/x/sync/errgroup"
)

// Section names, also used in View.Unavailable.
const (
	SectionSummary    = "summary"
	SectionTopJobs    = "topJobs"
	SectionTopFeeders = "topFeeders"
)

// Summary holds the headline counters for one year.
type Summary struct {
	TotalTasks     int `json:"totalTasks" validate:"gte=0"`
	CompletedTasks int `json:"completedTasks" validate:"gte=0"`
	ActiveTeams    int `json:"activeTeams" validate:"gte=0"`
	TotalFeeders   int `json:"totalFeeders" validate:"gte=0"`
}

// TopItem is one row of a ranking.
type TopItem struct {
	ID    string `json:"id"`
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
}

// View is the aggregated dashboard. A section that could not be loaded
// is null and named in Unavailable.
type View struct {
	Year        int       `json:"year"`
	Summary     *Summary  `json:"summary"`
	TopJobs     []TopItem `json:"topJobs"`
	TopFeeders  []TopItem `json:"topFeeders"`
	Unavailable []string  `json:"unavailable"`
}

// Service loads dashboards through the bridge.
type Service struct {
	bridge *bridge.Bridge
	logger *slog.Logger
}

// NewService creates a Service. logger may be nil.
func NewService(b *bridge.Bridge, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bridge: b, logger: logger}
}

// Load fetches all sections concurrently.
//
// # Description
//
// The three fetches are independent: a failing section becomes a
// placeholder and the others are still returned. The only error Load
// reports is an expired session (apierr.KindUnauthorized from any
// section), so route guards can redirect to the login page.
//
// # Inputs
//
//   - ctx: Request context, shared by all fetches.
//   - in: Inbound request whose session cookie is forwarded.
//   - year: Reporting year.
func (s *Service) Load(ctx context.Context, in bridge.CookieReader, year int) (View, error) {
	q := url.Values{"year": {strconv.Itoa(year)}}.Encode()

	var (
		summary    *Summary
		topJobs    []TopItem
		topFeeders []TopItem
		errs       = make([]error, 3)
	)

	// A rejected session fails the whole view and cancels the other reads.
	// Any other section error only marks that section unavailable.
	g, gCtx := errgroup.WithContext(ctx)
	section := func(i int, fetch func(context.Context) error) {
		g.Go(func() error {
			errs[i] = fetch(gCtx)
			if apierr.IsUnauthorized(errs[i]) {
				return errs[i]
			}
			return nil
		})
	}
	section(0, func(ctx context.Context) error {
		v, err := bridge.FetchJSON[Summary](ctx, s.bridge, in, "/v1/dashboard/summary?"+q, bridge.Options{})
		if err == nil {
			summary = &v
		}
		return err
	})
	section(1, func(ctx context.Context) (err error) {
		topJobs, err = bridge.FetchJSON[[]TopItem](ctx, s.bridge, in, "/v1/dashboard/top-jobs?"+q, bridge.Options{})
		return err
	})
	section(2, func(ctx context.Context) (err error) {
		topFeeders, err = bridge.FetchJSON[[]TopItem](ctx, s.bridge, in, "/v1/dashboard/top-feeders?"+q, bridge.Options{})
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, fmt.Errorf("load dashboard: %w", err)
	}

	view := View{Year: year, Unavailable: []string{}}
	sections := []string{SectionSummary, SectionTopJobs, SectionTopFeeders}
	for i, err := range errs {
		if err == nil {
			continue
		}
		s.logger.WarnContext(ctx, "dashboard section unavailable",
			"section", sections[i], "year", year, "error", err)
		view.Unavailable = append(view.Unavailable, sections[i])
	}

	if errs[0] == nil {
		view.Summary = summary
	}
	if errs[1] == nil {
		view.TopJobs = nonNil(topJobs)
	}
	if errs[2] == nil {
		view.TopFeeders = nonNil(topFeeders)
	}
	return view, nil
}

func nonNil(items []TopItem) []TopItem {
	if items == nil {
		return []TopItem{}
	}
	return items
}
