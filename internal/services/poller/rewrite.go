package poller

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"tweetfwd/internal/storage"
	"tweetfwd/internal/twitter"
	logx "tweetfwd/pkg/logx"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}

var statusPathRe = regexp.MustCompile(`^/[^/]+/status/([0-9]+)`)

// statusID extracts the tweet id from a link that points at a single-tweet
// view on the platform itself, or 0 when the link is anything else.
func statusID(raw string) int64 {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "twitter.com", "www.twitter.com", "mobile.twitter.com", "x.com", "www.x.com":
	default:
		return 0
	}
	m := statusPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func hasImageExtension(raw string) bool {
	lower := strings.ToLower(raw)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// runeSlice cuts s by rune offsets, the unit the upstream entity indices are
// expressed in. Out-of-range indices yield "".
func runeSlice(s string, from, to int) string {
	rs := []rune(s)
	if from < 0 || to > len(rs) || from >= to {
		return ""
	}
	return string(rs[from:to])
}

// rewrite normalizes one fetched tweet into the record that gets stored and
// delivered.
//
// For a retweet the original's text and entities are used, while the wrapper
// keeps its own id and timestamp as the stored identity. Media comes from the
// first attached media entity, else from the first link that looks like an
// image. Every short link is replaced by its expanded target; links to a
// single-tweet view are resolved and inlined as a quoted block instead, with
// the expanded URL as fallback when the resolve fails.
//
// Replacement works by substring matching against the raw (undecoded) text,
// not by byte offsets, so a display string occurring more than once is not
// disambiguated. That is a known approximation carried over deliberately.
func (s *Service) rewrite(ctx context.Context, tw *twitter.Tweet, accountID int64) storage.Post {
	data := tw.Effective()
	rawText := data.FullText

	photoURL := ""
	if len(data.Entities.Media) > 0 {
		photoURL = data.Entities.Media[0].MediaURLHTTPS
	} else {
		for _, ue := range data.Entities.URLs {
			if hasImageExtension(ue.ExpandedURL) {
				photoURL = ue.ExpandedURL
				break
			}
		}
	}
	if photoURL != "" {
		s.log.Debug("found media url in tweet", logx.Int64("tw_id", tw.ID), logx.String("url", photoURL))
	}

	text := html.UnescapeString(rawText)
	for _, ue := range data.Entities.URLs {
		display := runeSlice(rawText, ue.Indices[0], ue.Indices[1])
		if display == "" {
			continue
		}

		replacement := ue.ExpandedURL
		if id := statusID(ue.ExpandedURL); id != 0 {
			quoted, err := s.quotedText(ctx, id)
			if err != nil {
				s.log.Debug("quoted tweet fetch failed; keeping expanded url",
					logx.Int64("tw_id", tw.ID), logx.Int64("quoted_id", id), logx.Err(err))
			} else {
				text = "comment:\n" + text
				replacement = "\n\noriginal tweet:\n«" + quoted + "»"
			}
		}

		text = strings.ReplaceAll(text, display, replacement)
	}

	p := storage.Post{
		TweetID:   tw.ID,
		Text:      text,
		CreatedAt: tw.CreatedAt.Time,
		AccountID: accountID,
		PhotoURL:  photoURL,
	}
	if tw.IsRetweet() {
		p.OriginalName = data.User.ScreenName
	}
	return p
}

func (s *Service) quotedText(ctx context.Context, id int64) (string, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	quoted, err := s.tw.Status(ctx, id)
	if err != nil {
		return "", err
	}
	return quoted.FullText, nil
}
