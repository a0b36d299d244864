package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ehr/clinic-live/internal/config"
	"github.com/ehr/clinic-live/internal/domain/collaboration"
	"github.com/ehr/clinic-live/internal/domain/dashboard"
	"github.com/ehr/clinic-live/internal/domain/livedata"
	"github.com/ehr/clinic-live/internal/domain/notification"
	"github.com/ehr/clinic-live/internal/platform/audio"
	"github.com/ehr/clinic-live/internal/platform/auth"
	"github.com/ehr/clinic-live/internal/platform/wsclient"
	"github.com/ehr/clinic-live/pkg/wire"
)

type watchOptions struct {
	concern  string
	format   string
	config   string
	interval time.Duration
	token    string
	user     string
	name     string
	channels []string
	session  string
	create   string
	sound    bool
}

func watchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to one concern and print its state periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.concern, "concern", string(wire.ConcernDashboard), "dashboard, live-data, notifications or collaboration")
	f.StringVar(&opts.format, "format", "yaml", "output format: yaml or json")
	f.StringVar(&opts.config, "config", ".env", "config file; reconnect settings are reloaded when it changes")
	f.DurationVar(&opts.interval, "interval", 5*time.Second, "how often to print a snapshot")
	f.StringVar(&opts.token, "token", "", "bearer token (defaults to AUTH_TOKEN)")
	f.StringVar(&opts.user, "user", "", "user id; sent as ?user= when no token is set, otherwise taken from the token")
	f.StringVar(&opts.name, "name", "", "display name")
	f.StringSliceVar(&opts.channels, "channel", nil, "live-data subscription as name:kind, repeatable")
	f.StringVar(&opts.session, "session", "", "collaboration session to join")
	f.StringVar(&opts.create, "create-session", "", "create a collaboration session with this name")
	f.BoolVar(&opts.sound, "sound", false, "render notification cues to NOTIFY_SOUND_DIR")
	return cmd
}

// watcher ties a consumer to the manager that feeds it.
type watcher struct {
	handler wsclient.Handler
	view    func() any
	// attach runs once the manager exists, before Connect.
	attach func(m *wsclient.Manager) error
	close  func()
}

func runWatch(ctx context.Context, out io.Writer, opts watchOptions) error {
	if opts.format != "yaml" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	concern, err := wire.ParseConcern(opts.concern)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(opts.config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg).Output(zerolog.ConsoleWriter{Out: os.Stderr})

	token := opts.token
	if token == "" {
		token = cfg.AuthToken
	}
	if token != "" {
		opts, err = identifyFromToken(opts, token)
		if err != nil {
			return err
		}
	}
	w, err := newWatcher(concern, cfg, token, opts, logger)
	if err != nil {
		return err
	}
	defer w.close()

	overflow, err := wsclient.ParseOverflowPolicy(cfg.SendOverflow)
	if err != nil {
		return err
	}
	m, err := wsclient.New(wsclient.Options{
		URL:           endpointURL(cfg.Endpoint(concern), token, opts.user, opts.name),
		Token:         token,
		Policy:        policyOf(cfg),
		SendQueueSize: cfg.SendQueueSize,
		Overflow:      overflow,
		Logger:        logger,
	}, w.handler)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := w.attach(m); err != nil {
		return err
	}

	go func() {
		err := config.Watch(ctx, opts.config, logger, func(c *config.Config) {
			m.SetPolicy(policyOf(c))
		})
		if err != nil {
			logger.Debug().Err(err).Str("path", opts.config).Msg("config hot reload disabled")
		}
	}()

	m.Connect()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return render(out, opts.format, viewOf(concern, m.Status(), w.view()))
		case <-ticker.C:
			if err := render(out, opts.format, viewOf(concern, m.Status(), w.view())); err != nil {
				return err
			}
		}
	}
}

func policyOf(cfg *config.Config) wsclient.ReconnectPolicy {
	return wsclient.ReconnectPolicy{Interval: cfg.ReconnectInterval, MaxAttempts: cfg.MaxReconnectAttempts}
}

// endpointURL adds development identity parameters when no token is used.
func endpointURL(base, token, user, name string) string {
	if token != "" || user == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("user", user)
	if name != "" {
		q.Set("name", name)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func newWatcher(concern wire.Concern, cfg *config.Config, token string, opts watchOptions, logger zerolog.Logger) (*watcher, error) {
	noop := func(*wsclient.Manager) error { return nil }

	switch concern {
	case wire.ConcernDashboard:
		c := dashboard.NewConsumer(dashboard.ConsumerOptions{
			Fetcher: dashboard.NewHTTPFetcher(cfg.APIBaseURL, token),
			Logger:  logger,
		})
		return &watcher{handler: c, view: func() any { return c.View() }, attach: noop, close: func() {}}, nil

	case wire.ConcernLiveData:
		subs, err := parseChannels(opts.channels)
		if err != nil {
			return nil, err
		}
		c := livedata.NewConsumer(nil, logger)
		return &watcher{
			handler: c,
			view:    func() any { return c.View() },
			attach: func(m *wsclient.Manager) error {
				c.Bind(m)
				for _, s := range subs {
					if err := c.Subscribe(s.Channel, livedata.Kind(s.DataType)); err != nil {
						return err
					}
				}
				return nil
			},
			close: func() {},
		}, nil

	case wire.ConcernNotifications:
		var player audio.Player = audio.NopPlayer{}
		if opts.sound {
			if cfg.SoundDir == "" {
				return nil, fmt.Errorf("--sound needs NOTIFY_SOUND_DIR")
			}
			fp, err := audio.NewFilePlayer(cfg.SoundDir, logger)
			if err != nil {
				return nil, err
			}
			player = fp
		}
		c := notification.NewConsumer(notification.Options{Player: player, SoundEnabled: opts.sound, Logger: logger})
		return &watcher{handler: c, view: func() any { return c.View() }, attach: noop, close: func() {}}, nil

	case wire.ConcernCollaboration:
		c := collaboration.NewConsumer(nil, collaboration.Options{
			Self:   collaboration.User{ID: opts.user, Name: opts.name},
			Logger: logger,
		})
		var handler wsclient.Handler = c
		if opts.create != "" {
			handler = &firstConnect{Handler: c, fn: func() {
				if err := c.CreateSession(opts.create); err != nil {
					logger.Warn().Err(err).Msg("create session")
				}
			}}
		}
		return &watcher{
			handler: handler,
			view:    func() any { return c.View() },
			attach: func(m *wsclient.Manager) error {
				c.Bind(m)
				if opts.session != "" {
					return c.JoinSession(opts.session)
				}
				return nil
			},
			close: c.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported concern %q", concern)
}

// identifyFromToken takes the user id from the token subject, which is the id
// the gateway assigns, and the display name when none was given.
func identifyFromToken(opts watchOptions, token string) (watchOptions, error) {
	id, err := auth.PeekIdentity(token)
	if err != nil {
		return opts, err
	}
	opts.user = id.UserID
	if opts.name == "" {
		opts.name = id.Name
	}
	return opts, nil
}

// firstConnect runs fn after the first successful connect.
type firstConnect struct {
	wsclient.Handler
	once sync.Once
	fn   func()
}

func (h *firstConnect) OnConnect() {
	h.Handler.OnConnect()
	h.once.Do(h.fn)
}

// parseChannels reads name:kind pairs. A bare name is a chart.
func parseChannels(args []string) ([]wire.Subscription, error) {
	out := make([]wire.Subscription, 0, len(args))
	for _, arg := range args {
		name, kind, found := strings.Cut(arg, ":")
		if !found {
			kind = string(livedata.KindChart)
		}
		if name == "" {
			return nil, fmt.Errorf("channel %q has no name", arg)
		}
		k, err := livedata.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", arg, err)
		}
		out = append(out, wire.Subscription{Channel: name, DataType: string(k)})
	}
	return out, nil
}

type snapshot struct {
	Concern wire.Concern `json:"concern" yaml:"concern"`
	Status  statusView   `json:"status" yaml:"status"`
	State   any          `json:"state" yaml:"state"`
}

// statusView flattens wsclient.Status for printing.
type statusView struct {
	State       wsclient.State `json:"state" yaml:"state"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Dropped     int            `json:"dropped" yaml:"dropped"`
	LastType    wire.Type      `json:"lastType,omitempty" yaml:"lastType,omitempty"`
	LastMessage time.Time      `json:"lastMessageAt,omitempty" yaml:"lastMessageAt,omitempty"`
}

func viewOf(concern wire.Concern, st wsclient.Status, state any) snapshot {
	v := statusView{State: st.State, Attempts: st.Attempts, Error: st.Error, Dropped: st.Dropped}
	if st.LastMessage != nil {
		v.LastType = st.LastMessage.Type
		v.LastMessage = st.LastMessage.Time().UTC()
	}
	return snapshot{Concern: concern, Status: v, State: state}
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}
