package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/ledger"
	"github.com/CiscoZulfikar/bitget-trade/internal/monitor"
	"github.com/CiscoZulfikar/bitget-trade/internal/notify"
	"github.com/CiscoZulfikar/bitget-trade/internal/reconcile"
	"github.com/CiscoZulfikar/bitget-trade/internal/signal"
	"github.com/CiscoZulfikar/bitget-trade/internal/store"
	"github.com/CiscoZulfikar/bitget-trade/internal/trade"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成依赖装配后启动各协作任务：信号处理、对账循环、
// 状态播报与监控接口，任一任务异常退出则整体停机。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Bool("dry_run", a.cfg.Execution.DryRun),
	)

	ldg, err := ledger.New(a.store, a.logger.Named("ledger"))
	if err != nil {
		return err
	}

	monSvc, err := monitor.NewService(a.store, a.logger.Named("monitor"))
	if err != nil {
		return err
	}

	gateway, err := exchange.NewClient(a.cfg.Exchange, a.logger.Named("exchange"))
	if err != nil {
		return err
	}

	parser, err := signal.NewParser(a.cfg.Signal, a.logger.Named("signal"))
	if err != nil {
		return err
	}

	source := signal.NewChannelSource(64)
	notifier := notify.NewLogNotifier(a.logger.Named("notify"))
	manager := trade.NewManager(ldg, gateway, a.cfg.Risk, notifier,
		a.cfg.Execution.DryRun, a.logger.Named("trade"))
	loop := reconcile.NewLoop(gateway, ldg, manager, notifier, monSvc,
		a.cfg.Reconcile, a.cfg.Risk, a.logger.Named("reconcile"))

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.intakeLoop(gctx, source, parser, manager, monSvc)
	})
	group.Go(func() error {
		return loop.Run(gctx)
	})
	group.Go(func() error {
		return a.statusLoop(gctx, gateway, ldg, notifier, monSvc)
	})
	if a.cfg.Monitor.Enabled {
		server := monitor.NewServer(monSvc, source, a.cfg.Monitor.Port, a.logger.Named("monitor"))
		group.Go(func() error {
			return server.Run(gctx)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// intakeLoop 逐条消费信号消息。单条消息失败只记录并播报，
// 不中断后续信号的处理。
func (a *App) intakeLoop(ctx context.Context, source signal.Source, parser *signal.Parser,
	manager *trade.Manager, monSvc *monitor.Service) error {
	for {
		msg, err := source.Next(ctx)
		if err != nil {
			return err
		}

		intent, err := parser.Parse(ctx, msg)
		if err != nil {
			a.logger.Error("解析信号失败", zap.String("message_id", msg.ID), zap.Error(err))
			monSvc.RecordError(ctx, "解析信号失败", err, map[string]interface{}{"message_id": msg.ID})
			continue
		}

		payload := monitor.SignalPayload{
			MessageID: msg.ID,
			Kind:      string(intent.Kind),
			Text:      msg.Text,
		}
		switch intent.Kind {
		case signal.KindTrade:
			payload.Symbol = intent.Trade.Symbol
		case signal.KindUpdate:
			payload.Symbol = intent.Update.Symbol
		}
		monSvc.RecordSignal(ctx, payload)

		switch intent.Kind {
		case signal.KindTrade:
			if err := manager.HandleTrade(ctx, *intent.Trade); err != nil {
				a.logger.Error("处理开仓指令失败",
					zap.String("id", intent.Trade.ID),
					zap.String("symbol", intent.Trade.Symbol),
					zap.Error(err),
				)
				monSvc.RecordError(ctx, "处理开仓指令失败", err,
					map[string]interface{}{"id": intent.Trade.ID, "symbol": intent.Trade.Symbol})
			} else {
				monSvc.RecordExecution(ctx, monitor.ExecutionPayload{
					TradeID: intent.Trade.ID,
					Symbol:  intent.Trade.Symbol,
					Action:  "open",
					Outcome: "ok",
				})
			}
		case signal.KindUpdate:
			if err := manager.HandleUpdate(ctx, *intent.Update); err != nil {
				a.logger.Error("处理调整指令失败",
					zap.String("id", intent.Update.ID),
					zap.String("action", string(intent.Update.Action)),
					zap.Error(err),
				)
				monSvc.RecordError(ctx, "处理调整指令失败", err,
					map[string]interface{}{"id": intent.Update.ID, "action": string(intent.Update.Action)})
			} else {
				monSvc.RecordExecution(ctx, monitor.ExecutionPayload{
					TradeID: intent.Update.ID,
					Symbol:  intent.Update.Symbol,
					Action:  strings.ToLower(string(intent.Update.Action)),
					Outcome: "ok",
				})
			}
		case signal.KindIgnore:
			a.logger.Debug("忽略非交易消息", zap.String("message_id", msg.ID))
		}
	}
}

// statusLoop 周期播报账户状态与近期战绩。
func (a *App) statusLoop(ctx context.Context, gateway exchange.Gateway, ldg *ledger.Ledger,
	notifier notify.Notifier, monSvc *monitor.Service) error {
	interval := a.cfg.Status.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		text, payload, err := a.buildStatus(ctx, gateway, ldg)
		if err != nil {
			a.logger.Warn("生成状态播报失败", zap.Error(err))
			continue
		}
		notifier.Send(ctx, text)
		monSvc.RecordStatus(ctx, payload)
	}
}

func (a *App) buildStatus(ctx context.Context, gateway exchange.Gateway, ldg *ledger.Ledger) (string, monitor.StatusPayload, error) {
	balance, err := gateway.GetBalance(ctx)
	if err != nil {
		return "", monitor.StatusPayload{}, err
	}

	count, err := ldg.CountOpen(ctx)
	if err != nil {
		return "", monitor.StatusPayload{}, err
	}

	recent, err := ldg.RecentClosed(ctx, a.cfg.Status.RecentTrades)
	if err != nil {
		return "", monitor.StatusPayload{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "账户状态 | 权益 %.2f USDT | 可用 %.2f USDT | 持仓 %d 笔",
		balance.Equity, balance.Free, count)

	lines := make([]string, 0, len(recent))
	for _, rec := range recent {
		pnlText := "盈亏不可用"
		if rec.RealizedPnl != nil {
			pnlText = fmt.Sprintf("%+.4f", *rec.RealizedPnl)
		}
		line := fmt.Sprintf("%s %s %s", rec.Symbol, rec.Side, pnlText)
		lines = append(lines, line)
		b.WriteString("\n  ")
		b.WriteString(line)
	}

	return b.String(), monitor.StatusPayload{
		Equity:    balance.Equity,
		Free:      balance.Free,
		OpenCount: count,
		Recent:    lines,
	}, nil
}
