package catalog

import "context"

// Index names shared between the buffered layer and the durable stores.
const (
	IndexSortName = "sort_name"
	IndexArtistID = "artist_id"
	IndexAlbumID  = "album_id"
	IndexPath     = "path"
)

type ArtistRepository interface {
	Save(ctx context.Context, a Artist) error
	ByID(ctx context.Context, id int64) (Artist, error)
	BySortName(ctx context.Context, sortName string) ([]Artist, error)
	Delete(ctx context.Context, id int64) error
}

type AlbumRepository interface {
	Save(ctx context.Context, a Album) error
	ByID(ctx context.Context, id int64) (Album, error)
	ByArtist(ctx context.Context, artistID int64) ([]Album, error)
	Delete(ctx context.Context, id int64) error
}

type TrackRepository interface {
	Save(ctx context.Context, t Track) error
	ByID(ctx context.Context, id int64) (Track, error)
	// ByPath resolves the track at an exact library path; the scanner
	// uses it to dedupe files across runs.
	ByPath(ctx context.Context, path string) (Track, error)
	ByAlbum(ctx context.Context, albumID int64) ([]Track, error)
	// ByFolder lists the tracks whose path starts with the given folder
	// prefix, the query behind directory browsing.
	ByFolder(ctx context.Context, prefix string) ([]Track, error)
	Delete(ctx context.Context, id int64) error
}

type GenreRepository interface {
	Save(ctx context.Context, g Genre) error
	ByName(ctx context.Context, name string) (Genre, error)
	Delete(ctx context.Context, name string) error
}

type CoverArtRepository interface {
	Save(ctx context.Context, c CoverArt) error
	ByID(ctx context.Context, id string) (CoverArt, error)
	Delete(ctx context.Context, id string) error
}
