package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/classifier"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/config"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/engine"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/metrics"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search/factory"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/storage"
)

const runModeEnv = "RUN_MODE"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "crop_radar",
		Short:         "Ghana cash-crop news ingestion pipeline",
		Long:          "Searches cash-crop news keywords, classifies each result with an LLM and appends new relevant articles to the store.\nWithout a sub-command the mode is taken from RUN_MODE (default backfill).",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := engine.ParseMode(os.Getenv(runModeEnv))
			if err != nil {
				return err
			}
			return run(cmd.Context(), configPath, engine.RunOptions{Mode: mode})
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.ConfigPathEnv), "path to YAML config file")

	var start string
	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Process everything from the backfill start date until now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ro := engine.RunOptions{Mode: engine.ModeBackfill}
			if start != "" {
				t, err := time.ParseInLocation(time.DateOnly, start, time.UTC)
				if err != nil {
					return fmt.Errorf("invalid --start %q: %w", start, err)
				}
				ro.Start = t
			}
			return run(cmd.Context(), configPath, ro)
		},
	}
	backfill.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (default from config)")

	incremental := &cobra.Command{
		Use:   "incremental",
		Short: "Process everything since the last successful run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, engine.RunOptions{Mode: engine.ModeIncremental})
		},
	}

	root.AddCommand(backfill, incremental)
	return root
}

func run(ctx context.Context, configPath string, ro engine.RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. 加载并校验配置，任何外部调用之前完成
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置文件: %v\n", err)
		return err
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "无法初始化日志: %v\n", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Errorf("配置错误: %v", err)
		return err
	}
	backfillStart, err := cfg.BackfillStartDate()
	if err != nil {
		logger.Log.Errorf("配置错误: %v", err)
		return err
	}
	logger.Log.Infof("启动作物新闻雷达: provider=%s, store=%s, model=%s", cfg.Search.Provider, cfg.Store.Driver, cfg.LLM.Model)

	// 2. 初始化外部组件
	store, err := storage.NewStore(ctx, cfg.Store)
	if err != nil {
		logger.Log.Errorf("存储初始化失败: %v", err)
		return err
	}
	defer store.Close()

	searcher, err := factory.NewSearcher(cfg)
	if err != nil {
		logger.Log.Errorf("搜索客户端初始化失败: %v", err)
		return err
	}

	cls, err := classifier.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Log.Errorf("%v", err)
		return err
	}

	recorder := metrics.NewRecorder()
	eng := engine.New(engine.Deps{
		Searcher:   searcher,
		Classifier: cls,
		Store:      store,
		Metrics:    recorder,
	}, engine.Options{
		Keywords:          cfg.Keywords,
		Region:            cfg.Search.Serper.Region,
		MaxResults:        cfg.Search.MaxResults,
		SearchMaxAttempts: cfg.Search.MaxAttempts,
		SearchRetryDelay:  5 * time.Second,
		IncludeUndated:    cfg.IncludeUndated(),
		BackfillStart:     backfillStart,
	})

	// 3. 执行
	res, runErr := eng.Run(ctx, ro)

	if err := recorder.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		logger.Log.Warnf("指标推送失败: %v", err)
	}
	if runErr != nil {
		return runErr
	}
	logger.Log.Infof("运行结束: run_id=%s, 新增 %d 条记录", res.RunID, res.Added())
	return nil
}
