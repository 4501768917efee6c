package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "tweetfwd/pkg/logx"
)

const defaultBaseURL = "https://api.twitter.com/1.1"

type Config struct {
	BearerToken string
	// BaseURL overrides the API host, used by tests.
	BaseURL string
	// Timeout bounds every request. Defaults to 15s.
	Timeout time.Duration
}

// Client is a minimal read-only API client: a user timeline and a single
// status lookup, both in extended tweet mode.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("twitter bearer token is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// UserTimeline fetches tweets for screenName. With sinceID > 0 it returns
// everything newer than that id; otherwise it returns at most count newest
// tweets.
func (c *Client) UserTimeline(ctx context.Context, screenName string, sinceID int64, count int) ([]Tweet, error) {
	q := url.Values{}
	q.Set("screen_name", screenName)
	q.Set("tweet_mode", "extended")
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
	} else if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}

	var tweets []Tweet
	if err := c.get(ctx, "/statuses/user_timeline.json", q, &tweets); err != nil {
		return nil, err
	}
	return tweets, nil
}

// Status fetches a single tweet by id.
func (c *Client) Status(ctx context.Context, id int64) (*Tweet, error) {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(id, 10))
	q.Set("tweet_mode", "extended")

	var t Tweet
	if err := c.get(ctx, "/statuses/show.json", q, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.cfg.BaseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Kind:       kindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(body),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("twitter: decode %s: %w", path, err)
	}
	return nil
}

// apiErrorMessage extracts the first message from the API's error envelope.
func apiErrorMessage(body []byte) string {
	var env struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
		return ""
	}
	return env.Errors[0].Message
}
