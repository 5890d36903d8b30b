package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"griddca/internal/command"
	"griddca/internal/config"
	"griddca/internal/engine"
	"griddca/internal/gateway/notifier"
	"griddca/internal/logger"
	"griddca/internal/scheduler"
	"griddca/internal/store/gormstore"
	"griddca/internal/store/journal"
	livehttp "griddca/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动引擎、HTTP 与命令轮询。
type App struct {
	cfg       *config.Config
	engine    *engine.Engine
	ticker    scheduler.Ticker
	liveHTTP  *livehttp.Server
	history   *gormstore.GormStore
	journal   *journal.Journal
	commands  notifier.CommandSource
	notifier  notifier.TextNotifier
	pollEvery time.Duration
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动引擎、HTTP 服务与 Telegram 命令轮询，任一退出即全部停止。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	if a.commands != nil {
		group.Go(func() error {
			pollCommands(ctx, a.commands, a.engine, a.notifier, a.pollEvery)
			return nil
		})
	}

	group.Go(func() error {
		return a.engine.Run(ctx, a.ticker)
	})

	return group.Wait()
}

// Engine exposes the engine (for tests and replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warnf("close history store: %v", err)
		}
		a.history = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("close journal: %v", err)
		}
		a.journal = nil
	}
}

// submitter is the part of the engine the poll loop feeds.
type submitter interface {
	Submit(cmd command.Command, source string) error
}

// pollCommands 拉取运维消息并投递给引擎；解析失败直接回复帮助文本。
func pollCommands(ctx context.Context, src notifier.CommandSource, eng submitter, reply notifier.TextNotifier, every time.Duration) {
	if every <= 0 {
		every = 2 * time.Second
	}
	logger.Infof("Command polling started")
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := src.Poll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("command poll failed: %v", err)
		}
		for _, msg := range msgs {
			handleInbound(msg, eng, reply)
		}
		if err != nil || len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(every):
			}
		}
	}
}

func handleInbound(msg notifier.Inbound, eng submitter, reply notifier.TextNotifier) {
	cmd, err := command.Parse(msg.Text)
	if err != nil {
		var perr *command.ParseError
		text := err.Error()
		if errors.As(err, &perr) {
			text = fmt.Sprintf("❓ %s\n\n%s", perr.Reason, perr.Usage)
		}
		logger.Infof("[telegram] rejected %q: %v", msg.Text, err)
		send(reply, text)
		return
	}
	if err := eng.Submit(cmd, fmt.Sprintf("telegram:%s", msg.ChatID)); err != nil {
		logger.Warnf("[telegram] submit %s failed: %v", cmd.Name(), err)
		send(reply, fmt.Sprintf("⚠️ %s not accepted: %v", cmd.Name(), err))
	}
}

func send(n notifier.TextNotifier, text string) {
	if n == nil {
		return
	}
	if err := n.SendText(text); err != nil {
		logger.Warnf("reply failed: %v", err)
	}
}
