package main

import (
	"context"
	"flag"
	"log"
	"sort"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/candle"
	"main/internal/ops"
	"main/internal/store"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	equityAsset := flag.String("equity-asset", "USDT", "Asset to report final equity in")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "backtest",
			ServerAddress:   *profileAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	source := candle.NewFileSource(loaded.HistoryDir)
	s, markets, err := ops.Assemble(loaded, source)
	if err != nil {
		log.Fatalf("assemble failed: %v", err)
	}

	var rec *store.Recorder
	if loaded.Store.Enabled {
		client, err := conn.New(conn.Option{
			Host:     loaded.Store.Host,
			Port:     loaded.Store.Port,
			User:     loaded.Store.User,
			Password: loaded.Store.Password,
			Database: loaded.Store.Database,
			SSLMode:  loaded.Store.SSLMode,
		})
		if err != nil {
			log.Fatalf("store connect failed: %v", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logs.Warnf("close store: %+v", err)
			}
		}()

		if err := client.Ping(context.Background()); err != nil {
			log.Fatalf("store ping failed: %v", err)
		}

		rec, err = store.NewRecorder(client, loaded.Store.RunID)
		if err != nil {
			log.Fatalf("store setup failed: %v", err)
		}
		rec.Attach(markets...)
		s.SetRecorder(rec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Warnf("shutdown signal received, stopping run")
		cancel()
	}()

	if err := s.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}

	if err := rec.RecordClosedOrders(markets...); err != nil {
		log.Fatalf("record closed orders failed: %v", err)
	}

	for _, m := range markets {
		logs.Infof("%s equity: %s %s", m.Name(), m.Equity(*equityAsset), *equityAsset)
		balances := m.Balances()
		assets := make([]string, 0, len(balances))
		for asset := range balances {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			b := balances[asset]
			logs.Infof("%s %s free=%s locked=%s", m.Name(), asset, b.Free, b.Locked)
		}
	}
}
