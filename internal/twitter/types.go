package twitter

import (
	"fmt"
	"time"
)

// Tweet mirrors the extended-mode timeline payload, reduced to the fields the
// rewriter consumes.
type Tweet struct {
	ID              int64     `json:"id"`
	FullText        string    `json:"full_text"`
	CreatedAt       Timestamp `json:"created_at"`
	User            User      `json:"user"`
	Entities        Entities  `json:"entities"`
	RetweetedStatus *Tweet    `json:"retweeted_status,omitempty"`
}

// IsRetweet reports whether the tweet is a wrapper around another account's
// content.
func (t *Tweet) IsRetweet() bool { return t.RetweetedStatus != nil }

// Effective returns the tweet whose text and entities are actually rendered:
// the retweeted original when present, else the tweet itself.
func (t *Tweet) Effective() *Tweet {
	if t.RetweetedStatus != nil {
		return t.RetweetedStatus
	}
	return t
}

type User struct {
	ScreenName string `json:"screen_name"`
}

type Entities struct {
	Media []MediaEntity `json:"media,omitempty"`
	URLs  []URLEntity   `json:"urls,omitempty"`
}

type MediaEntity struct {
	MediaURLHTTPS string `json:"media_url_https"`
}

// URLEntity describes a t.co link inside the text. Indices are rune offsets
// into FullText, as the upstream API counts codepoints.
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	Indices     [2]int `json:"indices"`
}

// Timestamp parses the API's "Mon Jan 02 15:04:05 -0700 2006" format.
type Timestamp struct {
	time.Time
}

const createdAtFormat = "Mon Jan 02 15:04:05 -0700 2006"

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := time.Parse(createdAtFormat, s)
	if err != nil {
		return fmt.Errorf("tweet created_at %q: %w", s, err)
	}
	ts.Time = t
	return nil
}
