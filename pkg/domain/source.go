package domain

// SavePaths holds per-type save path overrides for a rank source
type SavePaths struct {
	Movie string
	TV    string
	Anime string
}

// For resolves the save path for a media type, preferring the anime
// path when the title carries the anime genre
func (p *SavePaths) For(mtype MediaType, anime bool) string {
	if p == nil {
		return ""
	}
	if anime && p.Anime != "" {
		return p.Anime
	}
	switch mtype {
	case MediaTypeTV:
		return p.TV
	case MediaTypeMovie:
		return p.Movie
	}
	return ""
}

// RankSource is one configured rank feed address with optional overrides,
// immutable during a run
type RankSource struct {
	Address     string
	SavePaths   *SavePaths
	Restriction string // "movies", "tv" or empty for no restriction
}

// Allows reports whether the source's type restriction permits the media type
func (s *RankSource) Allows(mtype MediaType) bool {
	switch s.Restriction {
	case "movies":
		return mtype != MediaTypeTV
	case "tv":
		return mtype != MediaTypeMovie
	}
	return true
}
