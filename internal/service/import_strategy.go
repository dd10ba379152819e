package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/source/rawg"
	"github.com/timmy/shotguess/internal/storage"
)

const defaultAssetsPerRecord = 5

// GameAPI is the subset of the metadata client used for imports.
type GameAPI interface {
	ListGames(ctx context.Context, p rawg.ListParams) (*rawg.GameList, error)
	GetGame(ctx context.Context, id int) (*rawg.GameDetail, error)
	ListScreenshots(ctx context.Context, id int) (*rawg.ScreenshotList, error)
}

// Catalog is the game store written by imports.
type Catalog interface {
	ExistsByExternalID(ctx context.Context, externalID int) (bool, error)
	Create(ctx context.Context, game *domain.Game) error
	CreateScreenshot(ctx context.Context, gameID, localPath string, meta domain.ScreenshotMeta) (*domain.Screenshot, error)
	UpdateScreenshotCount(ctx context.Context, gameID string, count int) error
}

// Fetcher downloads one asset.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) bool
}

// GameImportStrategy imports games and their screenshots. It serves both
// full_import and sync; the difference lives in the job's list filters.
type GameImportStrategy struct {
	importType domain.ImportType
	api        GameAPI
	catalog    Catalog
	fetcher    Fetcher
	local      *storage.LocalStorage
	mirror     storage.ObjectStorage
}

// NewGameImportStrategy creates a strategy for t. mirror may be nil.
func NewGameImportStrategy(
	t domain.ImportType,
	api GameAPI,
	catalog Catalog,
	fetcher Fetcher,
	local *storage.LocalStorage,
	mirror storage.ObjectStorage,
) *GameImportStrategy {
	return &GameImportStrategy{
		importType: t,
		api:        api,
		catalog:    catalog,
		fetcher:    fetcher,
		local:      local,
		mirror:     mirror,
	}
}

func (s *GameImportStrategy) Type() domain.ImportType {
	return s.importType
}

// FetchPage lists one page of games using the filters stored on the job.
func (s *GameImportStrategy) FetchPage(ctx context.Context, page, pageSize int) (*engine.Page, error) {
	params := rawg.ListParams{Page: page, PageSize: pageSize}
	if p := engine.ProgressFromContext(ctx); p != nil {
		opts := p.Opts()
		params.Ordering = opts.Ordering
		params.Dates = opts.Dates
		params.Genres = opts.Genres
		params.Platforms = opts.Platforms
	}

	list, err := s.api.ListGames(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &engine.Page{HasNext: list.HasNext(), Total: list.Count}
	for _, g := range list.Results {
		out.Items = append(out.Items, engine.Item{
			Key:   fmt.Sprintf("game %d (%s)", g.ID, g.Name),
			Value: g,
		})
	}
	return out, nil
}

// ProcessItem imports one game. Known games and games without screenshots are
// skipped; a failed screenshot never fails the game.
func (s *GameImportStrategy) ProcessItem(ctx context.Context, progress *domain.ImportProgress, item engine.Item) (engine.Outcome, error) {
	summary, ok := item.Value.(rawg.GameSummary)
	if !ok {
		return engine.Outcome{}, fmt.Errorf("unexpected item type %T", item.Value)
	}

	exists, err := s.catalog.ExistsByExternalID(ctx, summary.ID)
	if err != nil {
		return engine.Outcome{}, err
	}
	if exists || !summary.HasScreenshots() {
		return engine.Outcome{Result: engine.ResultSkipped}, nil
	}

	detail, err := s.api.GetGame(ctx, summary.ID)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to fetch details: %w", err)
	}

	game := &domain.Game{
		ExternalID:      detail.ID,
		Slug:            detail.Slug,
		Name:            detail.Name,
		Released:        detail.Released,
		BackgroundImage: detail.BackgroundImage,
		Rating:          detail.Rating,
		Metacritic:      detail.Metacritic,
		Genres:          refNames(detail.Genres),
		Tags:            refNames(detail.Tags),
		Description:     detail.DescriptionRaw,
		ImportedBy:      progress.ID,
	}
	if game.Name == "" {
		game.Name = summary.Name
	}
	if err := s.catalog.Create(ctx, game); err != nil {
		return engine.Outcome{}, err
	}

	outcome := engine.Outcome{Result: engine.ResultImported}
	shots := s.screenshots(ctx, summary, &outcome)

	limit := progress.Opts().AssetsPerRecord
	if limit <= 0 {
		limit = defaultAssetsPerRecord
	}
	if len(shots) > limit {
		shots = shots[:limit]
	}

	for i, shot := range shots {
		if err := s.saveScreenshot(ctx, game, shot, i); err != nil {
			outcome.AssetsFailed++
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%s screenshot %d: %v", item.Key, i+1, err))
			continue
		}
		outcome.AssetsDownloaded++
	}

	if err := s.catalog.UpdateScreenshotCount(ctx, game.ID, outcome.AssetsDownloaded); err != nil {
		logger.CtxWarn(ctx, "Failed to update screenshot count of %s: %v", game.ID, err)
	}
	return outcome, nil
}

// screenshots lists full-size screenshots, falling back to the ones embedded in the listing.
func (s *GameImportStrategy) screenshots(ctx context.Context, summary rawg.GameSummary, outcome *engine.Outcome) []rawg.Screenshot {
	list, err := s.api.ListScreenshots(ctx, summary.ID)
	if err == nil && len(list.Results) > 0 {
		return list.Results
	}
	if err != nil {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("game %d screenshots: %v", summary.ID, err))
	}
	shots := make([]rawg.Screenshot, 0, len(summary.ShortScreenshots))
	for _, ss := range summary.ShortScreenshots {
		if ss.Image == "" || ss.Image == summary.BackgroundImage {
			continue
		}
		shots = append(shots, rawg.Screenshot{ID: ss.ID, Image: ss.Image})
	}
	return shots
}

func (s *GameImportStrategy) saveScreenshot(ctx context.Context, game *domain.Game, shot rawg.Screenshot, position int) error {
	dest := s.local.PathFor(game.ID, shot.Image)
	if !s.fetcher.Fetch(ctx, shot.Image, dest) {
		return fmt.Errorf("download failed")
	}

	meta := domain.ScreenshotMeta{
		ExternalID: shot.ID,
		SourceURL:  shot.Image,
		Width:      shot.Width,
		Height:     shot.Height,
		Position:   position,
	}
	if info, err := storage.ReadImageInfo(dest); err == nil {
		if meta.Width == 0 || meta.Height == 0 {
			meta.Width, meta.Height = info.Width, info.Height
		}
		meta.FileSize = info.FileSize
	} else if st, statErr := os.Stat(dest); statErr == nil {
		meta.FileSize = st.Size()
	}

	if s.mirror != nil {
		key := s.local.KeyFor(strconv.Itoa(game.ExternalID), shot.Image)
		if err := s.upload(ctx, key, dest, meta.FileSize); err != nil {
			logger.CtxWarn(ctx, "Mirror upload of %s failed: %v", key, err)
		} else {
			meta.StorageKey = key
			meta.PublicURL = s.mirror.GetURL(key)
		}
	}

	_, err := s.catalog.CreateScreenshot(ctx, game.ID, dest, meta)
	return err
}

// upload copies the file to the mirror unless an object already sits under key.
// Keys derive from the external game ID and the source URL, so a re-imported
// game finds its earlier uploads.
func (s *GameImportStrategy) upload(ctx context.Context, key, path string, size int64) error {
	exists, err := s.mirror.Exists(ctx, key)
	if err != nil {
		logger.CtxWarn(ctx, "Mirror lookup of %s failed, uploading anyway: %v", key, err)
	} else if exists {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.mirror.Upload(ctx, key, f, size, storage.ContentType(path))
}

func refNames(refs []rawg.NamedRef) domain.StringArray {
	names := make(domain.StringArray, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	return names
}

// SyncDates returns the dates filter covering the last lookbackDays up to now.
func SyncDates(now time.Time, lookbackDays int) string {
	if lookbackDays <= 0 {
		lookbackDays = 14
	}
	from := now.AddDate(0, 0, -lookbackDays)
	return from.Format("2006-01-02") + "," + now.Format("2006-01-02")
}
