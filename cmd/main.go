package main

import (
	"context"
	"log"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"github.com/hertz-contrib/pprof"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"rex-hertz/biz/dal"
	"rex-hertz/biz/dal/kafka"
	"rex-hertz/biz/dal/pg"
	redisDal "rex-hertz/biz/dal/redis"
	"rex-hertz/biz/engine"
	"rex-hertz/biz/handler"
	"rex-hertz/biz/service"
	bizutil "rex-hertz/biz/util"
	"rex-hertz/conf"
	"rex-hertz/middleware"
	wsserver "rex-hertz/server"
	"rex-hertz/util"
)

func main() {
	_ = godotenv.Load()
	cfg := conf.GetConf()

	initLog(cfg)
	dal.Init()
	util.InitSonyFlake()
	if err := engine.InitBroadcastPool(1024); err != nil {
		log.Fatalf("broadcast pool init error: %v", err)
	}

	// 存储层
	ledger := pg.NewLedger(pg.GormDB)
	fundingStore := pg.NewFundingStore(pg.GormDB)
	allocRepo := pg.NewAllocationRepo(pg.GetPool())
	orderQueue := redisDal.NewOrderQueue(redisDal.Client)
	snapshotCache := redisDal.NewSnapshotCache(redisDal.Client,
		time.Duration(cfg.Market.SnapshotTTLSeconds)*time.Second)

	// 事件与通知
	events := service.NewKafkaEventPublisher(cfg.Kafka.Topics["orders"], cfg.Kafka.Topics["trades"])
	notifier := service.MultiNotifier{
		service.NewKafkaNotifier(cfg.Kafka.Topics["notifications"]),
		service.NewWSNotifier(wsserver.Unicast),
	}

	// 投影与撮合
	projector := service.NewProjector(ledger, snapshotCache, fundingStore,
		wsserver.Broadcast, cfg.Market.BandPercent, cfg.Engine.NodeID)
	wsserver.SnapshotFetcher = projector.FullMessage

	settlement := service.NewSettlementEngine()
	matchEngine := service.NewMatchEngine(ledger, settlement, cfg.Engine.NodeID)
	effects := service.NewMatchEffects(events, projector, notifier)
	worker := service.NewMatchWorker(orderQueue, matchEngine, effects, cfg.Engine.MaxDrainIterations)

	window, err := service.NewTradingWindow(cfg.Market.OpenTime, cfg.Market.CloseTime)
	if err != nil {
		log.Fatalf("trading window config error: %v", err)
	}
	orderSvc := service.NewOrderService(ledger, fundingStore, orderQueue, worker, projector,
		events, notifier, window)
	assetSvc := service.NewAssetService(ledger)
	allocSvc := service.NewAllocationService(fundingStore, fundingStore, allocRepo,
		cfg.Engine.AllocChunkSize, cfg.Engine.AllocWorkers,
		time.Duration(cfg.Engine.AllocChunkTimeoutSec)*time.Second)

	handler.Init(orderSvc, assetSvc, allocSvc, projector, ledger, fundingStore)

	// 残留在途订单定期回收，顺带补一次 drain
	localFundings := bizutil.ParseFundings(cfg.Engine.Fundings)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go worker.RunRecoverySweep(sweepCtx,
		localFundings,
		time.Duration(cfg.Engine.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Engine.InFlightMaxAgeSeconds)*time.Second)

	h := server.New(server.WithHostPorts(cfg.Hertz.Address))
	h.NoHijackConnPool = true
	registerMiddleware(h, cfg)

	// 多节点部署时经 Consul 注册本节点负责的 funding，并转发非本地下单
	if cfg.Registry.Enable {
		helper, err := service.NewConsulHelperWithAddrs(cfg.Registry.RegistryAddress)
		if err != nil {
			log.Fatalf("consul init error: %v", err)
		}
		if err := helper.RegisterEngineNode(cfg.Engine.NodeID, bizutil.GetLocalIP(),
			localFundings, cfg.Engine.EnginePort); err != nil {
			log.Fatalf("consul register error: %v", err)
		}
		h.Use(middleware.DistributedRouteMiddleware(helper))
	}

	registerRoutes(h)

	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		sweepCancel()
		events.Shutdown()
		kafka.CloseAllWriters()
	})
	h.Spin()
}

func initLog(cfg *conf.Config) {
	logger := hertzzap.NewLogger()
	hlog.SetLogger(logger)
	hlog.SetLevel(conf.LogLevel())
	if cfg.Env == "online" {
		asyncWriter := &zapcore.BufferedWriteSyncer{
			WS: zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.Hertz.LogFileName,
				MaxSize:    cfg.Hertz.LogMaxSize,
				MaxBackups: cfg.Hertz.LogMaxBackups,
				MaxAge:     cfg.Hertz.LogMaxAge,
			}),
			FlushInterval: time.Minute,
		}
		hlog.SetOutput(asyncWriter)
	}
}

func registerMiddleware(h *server.Hertz, cfg *conf.Config) {
	if cfg.Hertz.EnablePprof {
		pprof.Register(h)
	}
	if cfg.Hertz.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if cfg.Hertz.EnableAccessLog {
		h.Use(accesslog.New())
	}
	if cfg.Hertz.EnableCors {
		h.Use(cors.Default())
	}
}

func registerRoutes(h *server.Hertz) {
	h.POST("/orders", handler.SubmitOrder)
	h.GET("/orders", handler.ListOrders)
	h.GET("/orders/:id", handler.GetOrder)
	h.PATCH("/orders/:id", handler.CancelOrder)

	h.GET("/order-book/:funding_id", handler.GetOrderBook)
	h.GET("/trades", handler.GetTrades)

	h.GET("/balance", handler.GetBalance)
	h.GET("/positions", handler.GetPositions)
	h.POST("/balance/adjust", handler.AdjustBalance)

	h.GET("/fundings/:id", handler.GetFunding)
	h.POST("/fundings/:id/allocate", handler.AllocateFunding)

	h.GET("/ws", wsserver.WSHandler)
}
