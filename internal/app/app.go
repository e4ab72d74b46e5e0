// Package app wires configuration into the recording core.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/cohost/internal/audio"
	"github.com/zulandar/cohost/internal/client"
	"github.com/zulandar/cohost/internal/config"
	"github.com/zulandar/cohost/internal/db"
	"github.com/zulandar/cohost/internal/notify"
	"github.com/zulandar/cohost/internal/queue"
	"github.com/zulandar/cohost/internal/resume"
	"github.com/zulandar/cohost/internal/server"
	"github.com/zulandar/cohost/internal/session"
	"github.com/zulandar/cohost/internal/transcript"
	"gorm.io/gorm"
)

// App holds the composed services.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Audio      *audio.Store
	Ledger     *session.Ledger
	Monitor    *session.Monitor
	Transcript *transcript.Store
	Planner    *resume.Planner
	Hub        *notify.Hub

	closers []func()
}

// New connects to the database, migrates it and builds every service.
// Notification targets named in the config are attached to the ledger.
func New(cfg *config.Config) (*App, error) {
	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return NewWithDB(cfg, gdb)
}

// NewWithDB builds the services over an existing connection.
func NewWithDB(cfg *config.Config, gdb *gorm.DB) (*App, error) {
	a := &App{Config: cfg, DB: gdb, Hub: notify.NewHub(0)}

	store, err := audio.NewStore(audio.StoreOpts{DB: gdb, Dir: cfg.Audio.Dir})
	if err != nil {
		return nil, err
	}
	a.Audio = store

	publishers, err := a.publishers()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger, err = session.NewLedger(session.LedgerOpts{
		DB:             gdb,
		Tracks:         store,
		Publisher:      publishers,
		PublishTimeout: time.Duration(cfg.Notify.PublishTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Monitor = session.NewMonitor(a.Ledger, session.NewPolicy(cfg.Heartbeat.TimeoutMs))

	if a.Transcript, err = transcript.NewStore(gdb); err != nil {
		a.Close()
		return nil, err
	}
	a.Planner, err = resume.NewPlanner(resume.PlannerOpts{Ledger: a.Ledger, Audio: store, Transcript: a.Transcript})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// publishers builds the notification fan-out: the SSE hub always, plus
// each configured external target.
func (a *App) publishers() (notify.Multi, error) {
	n := a.Config.Notify
	pubs := notify.Multi{a.Hub}

	if n.Command != "" {
		pubs = append(pubs, notify.CommandPublisher{Command: n.Command})
	}
	if n.NatsURL != "" {
		p, err := notify.NewNATS(notify.NATSOpts{URL: n.NatsURL, Subject: n.NatsSubject})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pubs = append(pubs, p)
	}
	if n.SlackToken != "" {
		p, err := notify.NewSlack(notify.SlackOpts{BotToken: n.SlackToken, ChannelID: n.SlackChannel})
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if n.DiscordToken != "" {
		p, err := notify.NewDiscord(notify.DiscordOpts{BotToken: n.DiscordToken, ChannelID: n.DiscordChannel})
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// ServerDeps returns the handler dependencies for the API server.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Ledger:         a.Ledger,
		Monitor:        a.Monitor,
		Audio:          a.Audio,
		Transcript:     a.Transcript,
		Planner:        a.Planner,
		Hub:            a.Hub,
		UpstreamAPIKey: a.Config.Upstream.APIKey,
	}
}

// Close waits for pending completion events, then releases external
// connections.
func (a *App) Close() {
	if a.Ledger != nil {
		a.Ledger.Wait()
	}
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}

// OpenQueue builds the offline queue from config. With local set, replays
// write straight into the database instead of calling the server.
func OpenQueue(ctx context.Context, cfg *config.Config, transcriptStore *transcript.Store, local bool) (*queue.Queue, func(), error) {
	closer := func() {}
	var kv queue.KV
	switch cfg.Queue.Backend {
	case "redis":
		r := queue.NewRedisKV(cfg.Queue.RedisAddr)
		kv, closer = r, func() { r.Close() }
	case "nats":
		n, err := queue.NewNATSKV(ctx, cfg.Queue.NatsURL, cfg.Queue.Bucket)
		if err != nil {
			return nil, nil, err
		}
		kv, closer = n, func() { n.Close() }
	default:
		kv = queue.FileKV{Dir: cfg.Queue.Path}
	}

	var sender queue.Sender = client.New(cfg.Queue.ServerURL, nil)
	if local {
		if transcriptStore == nil {
			closer()
			return nil, nil, fmt.Errorf("app: local replay needs a transcript store")
		}
		sender = queue.LocalSender{Store: transcriptStore}
	}

	q, err := queue.New(queue.Opts{KV: kv, Key: cfg.Queue.Key, Sender: sender})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return q, closer, nil
}
