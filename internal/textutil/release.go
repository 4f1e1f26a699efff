package textutil

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	episodePattern = regexp.MustCompile(`(?i)^(s\d{1,3}(e\d{1,4})*|\d{1,2}x\d{1,3}|season)$`)
	yearPattern    = regexp.MustCompile(`^(19|20)\d{2}$`)
	// releaseTags end the title part of a scene-style release name.
	releaseTags = map[string]struct{}{
		"480p": {}, "576p": {}, "720p": {}, "1080p": {}, "1080i": {}, "2160p": {}, "4k": {}, "uhd": {},
		"web": {}, "webrip": {}, "web-dl": {}, "webdl": {}, "bluray": {}, "blu-ray": {}, "bdrip": {},
		"brrip": {}, "hdtv": {}, "dvdrip": {}, "remux": {}, "proper": {}, "repack": {}, "internal": {},
		"x264": {}, "x265": {}, "h264": {}, "h265": {}, "hevc": {}, "complete": {}, "multi": {},
	}
)

// Release is what can be recovered about a title from a release file name.
type Release struct {
	Title   string
	Year    int
	Episode string
}

// ParseRelease extracts the title, year and episode marker from a scene-style
// name such as "The.Show.2019.S01E02.1080p.WEB-DL-GRP.nzb".
func ParseRelease(name string) Release {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == '.' || r == '_' || r == ' ' || r == '[' || r == ']' || r == '(' || r == ')'
	})

	var (
		release Release
		words   []string
	)
	for _, field := range fields {
		lower := strings.ToLower(field)
		if episodePattern.MatchString(lower) {
			release.Episode = strings.ToUpper(field)
			break
		}
		if _, tag := releaseTags[lower]; tag {
			break
		}
		if strings.HasPrefix(lower, "web-dl") || strings.HasPrefix(lower, "x264-") || strings.HasPrefix(lower, "x265-") {
			break
		}
		// A year ends the title unless it is the only word so far ("2012").
		if yearPattern.MatchString(field) && len(words) > 0 {
			release.Year, _ = strconv.Atoi(field)
			continue
		}
		if release.Year != 0 {
			break
		}
		words = append(words, field)
	}
	// Casers are stateful, so each call gets its own.
	release.Title = cases.Title(language.English).String(strings.Join(words, " "))
	return release
}

// ReleaseTitle returns the lookup term for a release file name: the title,
// followed by the year when one is present.
func ReleaseTitle(name string) string {
	r := ParseRelease(name)
	if r.Year != 0 && r.Title != "" {
		return r.Title + " " + strconv.Itoa(r.Year)
	}
	return r.Title
}
