package config

import (
	"strconv"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// rankCatalog maps predefined rank names to their feed addresses
var rankCatalog = map[string]string{
	"movie-ustop":       "https://rsshub.app/douban/movie/ustop",
	"movie-weekly":      "https://rsshub.app/douban/movie/weekly",
	"movie-real-time":   "https://rsshub.app/douban/movie/weekly/movie_real_time_hotest",
	"show-domestic":     "https://rsshub.app/douban/movie/weekly/show_domestic",
	"movie-hot-gaia":    "https://rsshub.app/douban/movie/weekly/movie_hot_gaia",
	"tv-hot":            "https://rsshub.app/douban/movie/weekly/tv_hot",
	"movie-top250":      "https://rsshub.app/douban/movie/weekly/movie_top250",
	"movie-top250-full": "https://rsshub.app/douban/list/movie_top250",
}

// Sources resolves configured addresses and predefined rank names into rank
// sources, parsing the address mini-syntax "url[;save_spec][;@type@]" where
// save_spec may be "movie#tv#anime" delimited
func (r *RankConfig) Sources() []domain.RankSource {
	addrs := make([]string, 0, len(r.Addresses)+len(r.Ranks))
	addrs = append(addrs, r.Addresses...)
	for _, rank := range r.Ranks {
		addr, ok := rankCatalog[rank]
		if !ok {
			lgr.Printf("[WARN] unknown predefined rank %q, skipped", rank)
			continue
		}
		addrs = append(addrs, addr)
	}

	sources := make([]domain.RankSource, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		sources = append(sources, ParseSource(addr))
	}
	return sources
}

// ParseSource splits one configured address into url, save paths and type restriction
func ParseSource(addr string) domain.RankSource {
	if !strings.Contains(addr, ";") {
		return domain.RankSource{Address: addr}
	}

	parts := strings.Split(addr, ";")
	src := domain.RankSource{Address: parts[0]}

	if saveSpec := parts[1]; saveSpec != "" {
		paths := &domain.SavePaths{Movie: saveSpec, TV: saveSpec, Anime: saveSpec}
		if strings.Contains(saveSpec, "#") {
			specs := strings.Split(saveSpec, "#")
			paths.Movie = specs[0]
			paths.TV = specs[1]
			paths.Anime = specs[1] // anime falls back to the tv path
			if len(specs) > 2 {
				paths.Anime = specs[2]
			}
		}
		src.SavePaths = paths
	}

	if len(parts) > 2 {
		restriction := parts[2]
		if strings.HasPrefix(restriction, "@") && strings.HasSuffix(restriction, "@") {
			src.Restriction = strings.Trim(restriction, "@")
		}
	}
	return src
}

// default politeness sleep bounds in seconds
const (
	defaultMinSleep = 3
	defaultMaxSleep = 10
)

// SleepRange parses the "min,max" sleep-time setting, falling back to the
// defaults with a warning when the value is malformed or max < min
func (r *RankConfig) SleepRange() (minSleep, maxSleep int) {
	fields := strings.FieldsFunc(r.SleepTime, func(c rune) bool { return c == ',' || c == '，' })
	if len(fields) != 2 {
		lgr.Printf("[WARN] malformed sleep_time %q, using default %d,%d", r.SleepTime, defaultMinSleep, defaultMaxSleep)
		return defaultMinSleep, defaultMaxSleep
	}

	lo, errLo := strconv.Atoi(strings.TrimSpace(fields[0]))
	hi, errHi := strconv.Atoi(strings.TrimSpace(fields[1]))
	if errLo != nil || errHi != nil {
		lgr.Printf("[WARN] malformed sleep_time %q, using default %d,%d", r.SleepTime, defaultMinSleep, defaultMaxSleep)
		return defaultMinSleep, defaultMaxSleep
	}
	if hi < lo {
		lgr.Printf("[WARN] sleep_time max %d is below min %d, using default %d,%d", hi, lo, defaultMinSleep, defaultMaxSleep)
		return defaultMinSleep, defaultMaxSleep
	}
	return lo, hi
}
