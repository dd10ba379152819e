package rawg

// NamedRef is the {id, name, slug} shape used for genres, tags and platforms.
type NamedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ShortScreenshot is embedded in list results.
type ShortScreenshot struct {
	ID    int    `json:"id"`
	Image string `json:"image"`
}

// GameSummary is one entry of a games listing.
type GameSummary struct {
	ID               int               `json:"id"`
	Slug             string            `json:"slug"`
	Name             string            `json:"name"`
	Released         string            `json:"released"`
	BackgroundImage  string            `json:"background_image"`
	Rating           float64           `json:"rating"`
	Metacritic       int               `json:"metacritic"`
	ScreenshotsCount int               `json:"screenshots_count"`
	ShortScreenshots []ShortScreenshot `json:"short_screenshots"`
	Genres           []NamedRef        `json:"genres"`
	Tags             []NamedRef        `json:"tags"`
}

// HasScreenshots reports whether the listing advertises any screenshot.
func (g GameSummary) HasScreenshots() bool {
	return g.ScreenshotsCount > 0 || len(g.ShortScreenshots) > 0
}

// GameList is one page of games.
type GameList struct {
	Count    int           `json:"count"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []GameSummary `json:"results"`
}

// HasNext reports whether another page follows.
func (l *GameList) HasNext() bool {
	return l.Next != nil && *l.Next != ""
}

// GameDetail is the full record for one game.
type GameDetail struct {
	GameSummary
	DescriptionRaw string `json:"description_raw"`
	Website        string `json:"website"`
}

// Screenshot is one entry of a game's screenshot listing.
type Screenshot struct {
	ID     int    `json:"id"`
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ScreenshotList is a game's screenshots.
type ScreenshotList struct {
	Count   int          `json:"count"`
	Results []Screenshot `json:"results"`
}

// ListParams filters a games listing. Zero values are omitted.
type ListParams struct {
	Page      int
	PageSize  int
	Ordering  string
	Dates     string
	Genres    string
	Platforms string
	Search    string
}
