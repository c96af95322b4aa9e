package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/go4it/marketplace/internal/model"
)

type WatchCmd struct {
	API        string `required:"" env:"ORGAPP_API_URL" help:"Base URL of core-api, e.g. http://localhost:8090."`
	Org        string `required:"" help:"Organization ID."`
	App        string `required:"" help:"Application ID."`
	User       string `required:"" env:"ORGAPP_USER_ID" help:"User ID sent as X-User-ID."`
	MaxRetries uint   `default:"10" help:"Reconnect attempts before giving up."`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	target, err := progressSocketURL(c.API, c.Org, c.App)
	if err != nil {
		return err
	}
	w := &watcher{
		url:      target,
		user:     c.User,
		out:      os.Stdout,
		maxTries: c.MaxRetries,
		backoff:  backoff.NewExponentialBackOff(),
	}
	return w.run(ctx)
}

func progressSocketURL(api, orgID, appID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(api, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/orgs/" + url.PathEscape(orgID) + "/apps/" + url.PathEscape(appID) + "/ws"
	return u.String(), nil
}

// errLagged means the server dropped us for falling behind; a fresh
// subscription starts again from a state snapshot.
var errLagged = errors.New("subscription lagged")

// errInterrupted means the stream closed before a terminal state arrived,
// typically a server restart.
var errInterrupted = errors.New("stream interrupted before a terminal state")

type watcher struct {
	url      string
	user     string
	out      io.Writer
	maxTries uint
	backoff  backoff.BackOff
}

func (w *watcher) run(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.session(ctx)
	},
		backoff.WithBackOff(w.backoff),
		backoff.WithMaxTries(w.maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			fmt.Fprintf(os.Stderr, "reconnecting in %s: %v\n", d.Round(time.Millisecond), err)
		}),
	)
	return err
}

// session runs one subscription until the server closes it. A nil return
// means a terminal state was printed and the stream ended normally.
func (w *watcher) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-User-ID", w.user)
	conn, resp, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("subscribe: server returned %s", resp.Status))
		}
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.CloseNow()

	finished := false
	for {
		var ev model.ProgressEvent
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure:
				if finished {
					return nil
				}
				return errInterrupted
			case websocket.StatusGoingAway, websocket.StatusServiceRestart:
				return errInterrupted
			case websocket.StatusTryAgainLater:
				return errLagged
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("read: %w", err)
		}
		printEvent(w.out, ev)
		finished = ev.Terminal()
	}
}

func printEvent(out io.Writer, ev model.ProgressEvent) {
	line := fmt.Sprintf("%s #%d %-10s %-10s %s", ev.Timestamp.Format(time.TimeOnly), ev.Seq, ev.Stage, ev.Status, ev.Message)
	if ev.FlyURL != nil {
		line += " url=" + *ev.FlyURL
	}
	if ev.Error != nil {
		line += " error=" + *ev.Error
	}
	fmt.Fprintln(out, strings.TrimRight(line, " "))
}
