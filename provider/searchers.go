package provider

import (
	"context"
	"strconv"

	"github.com/mediatrack/metacache/cache"
)

// movieDB fronts the movie/TV metadata database (both media types share it).
type movieDB struct {
	upstream
}

func (p *movieDB) Label() string { return "moviedb" }

func (p *movieDB) Search(ctx context.Context, query string) ([]cache.Result, error) {
	var body struct {
		Results []struct {
			ID           int64  `json:"id"`
			Title        string `json:"title"`
			Name         string `json:"name"`
			PosterPath   string `json:"poster_path"`
			ReleaseDate  string `json:"release_date"`
			FirstAirDate string `json:"first_air_date"`
			MediaType    string `json:"media_type"`
		} `json:"results"`
	}
	u := p.cfg.BaseURL + "/search/multi?" + queryValues(
		"api_key", p.cfg.APIKey,
		"query", query,
	).Encode()
	if err := p.getJSON(ctx, p.Label(), u, &body); err != nil {
		return nil, err
	}
	results := make([]cache.Result, 0, len(body.Results))
	for _, r := range body.Results {
		title, date := r.Title, r.ReleaseDate
		if title == "" {
			title, date = r.Name, r.FirstAirDate
		}
		results = append(results, cache.Result{
			ExternalID:  strconv.FormatInt(r.ID, 10),
			Title:       title,
			CoverURL:    imageURL(r.PosterPath),
			ReleaseYear: yearOf(date),
			Meta:        map[string]any{"mediaType": r.MediaType},
		})
	}
	return results, nil
}

func imageURL(posterPath string) string {
	if posterPath == "" {
		return ""
	}
	return "https://image.tmdb.org/t/p/w342" + posterPath
}

// openBooks fronts the book metadata database.
type openBooks struct {
	upstream
}

func (p *openBooks) Label() string { return "openbooks" }

func (p *openBooks) Search(ctx context.Context, query string) ([]cache.Result, error) {
	var body struct {
		Docs []struct {
			Key              string   `json:"key"`
			Title            string   `json:"title"`
			CoverID          int64    `json:"cover_i"`
			FirstPublishYear int      `json:"first_publish_year"`
			AuthorName       []string `json:"author_name"`
		} `json:"docs"`
	}
	u := p.cfg.BaseURL + "/search.json?" + queryValues(
		"q", query,
		"limit", "20",
	).Encode()
	if err := p.getJSON(ctx, p.Label(), u, &body); err != nil {
		return nil, err
	}
	results := make([]cache.Result, 0, len(body.Docs))
	for _, d := range body.Docs {
		var cover string
		if d.CoverID != 0 {
			cover = "https://covers.openlibrary.org/b/id/" + strconv.FormatInt(d.CoverID, 10) + "-M.jpg"
		}
		meta := map[string]any{"mediaType": "book"}
		if len(d.AuthorName) > 0 {
			meta["author"] = d.AuthorName[0]
		}
		results = append(results, cache.Result{
			ExternalID:  d.Key,
			Title:       d.Title,
			CoverURL:    cover,
			ReleaseYear: d.FirstPublishYear,
			Meta:        meta,
		})
	}
	return results, nil
}

// gamesDB fronts the game metadata database.
type gamesDB struct {
	upstream
}

func (p *gamesDB) Label() string { return "gamesdb" }

func (p *gamesDB) Search(ctx context.Context, query string) ([]cache.Result, error) {
	var body struct {
		Results []struct {
			ID              int64  `json:"id"`
			Name            string `json:"name"`
			BackgroundImage string `json:"background_image"`
			Released        string `json:"released"`
		} `json:"results"`
	}
	u := p.cfg.BaseURL + "/api/games?" + queryValues(
		"key", p.cfg.APIKey,
		"search", query,
	).Encode()
	if err := p.getJSON(ctx, p.Label(), u, &body); err != nil {
		return nil, err
	}
	results := make([]cache.Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, cache.Result{
			ExternalID:  strconv.FormatInt(r.ID, 10),
			Title:       r.Name,
			CoverURL:    r.BackgroundImage,
			ReleaseYear: yearOf(r.Released),
			Meta:        map[string]any{"mediaType": "game"},
		})
	}
	return results, nil
}

// podcastIndex fronts the podcast directory.
type podcastIndex struct {
	upstream
}

func (p *podcastIndex) Label() string { return "podcastidx" }

func (p *podcastIndex) Search(ctx context.Context, query string) ([]cache.Result, error) {
	var body struct {
		Results []struct {
			CollectionID   int64  `json:"collectionId"`
			CollectionName string `json:"collectionName"`
			ArtistName     string `json:"artistName"`
			ArtworkURL     string `json:"artworkUrl600"`
			ReleaseDate    string `json:"releaseDate"`
		} `json:"results"`
	}
	u := p.cfg.BaseURL + "/search?" + queryValues(
		"media", "podcast",
		"term", query,
	).Encode()
	if err := p.getJSON(ctx, p.Label(), u, &body); err != nil {
		return nil, err
	}
	results := make([]cache.Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, cache.Result{
			ExternalID:  strconv.FormatInt(r.CollectionID, 10),
			Title:       r.CollectionName,
			CoverURL:    r.ArtworkURL,
			ReleaseYear: yearOf(r.ReleaseDate),
			Meta:        map[string]any{"mediaType": "podcast", "publisher": r.ArtistName},
		})
	}
	return results, nil
}
