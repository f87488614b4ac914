package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/candle"
	"main/internal/sim"
)

const symbolTable = `{"symbols":[
	{"symbol":"BTCUSDT","asset":"BTC","quoteAsset":"USDT","minLotSize":"0.0001","lotSizeStep":"0.0001","minNotional":"5","pricePrecision":2},
	{"symbol":"ETHUSDT","asset":"ETH","quoteAsset":"USDT","minLotSize":"0.001","lotSizeStep":"0.001","minNotional":"5","pricePrecision":2}
]}`

const configTemplate = `{
	"venues": [
		{
			"name": "binance",
			"makerFeeRate": "0.001",
			"takerFeeRate": "0.002",
			"spreadFraction": 0.001,
			"symbolTable": "symbols.json",
			"symbols": ["BTCUSDT"]
		}
	],
	"simulation": {
		"resolutionSeconds": 60,
		"start": "2024-03-01T10:00:00Z",
		"end": "2024-03-01T10:05:00Z",
		"loadPolicy": "incremental"
	},
	"deposits": [
		{"venue": "binance", "asset": "USDT", "amount": "10000"}
	],
	"history": {"dir": "candles"}
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "symbols.json"), []byte(symbolTable), 0o644); err != nil {
		t.Fatalf("write symbol table failed: %+v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		t.Fatalf("write config failed: %+v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %+v", err)
	}

	if len(loaded.Venues) != 1 {
		t.Fatalf("venue count mismatch: %d", len(loaded.Venues))
	}
	v := loaded.Venues[0]
	if v.Market.Name != "binance" {
		t.Fatalf("venue name mismatch: %s", v.Market.Name)
	}
	if v.Market.MakerFeeRate.String() != "0.001" || v.Market.TakerFeeRate.String() != "0.002" {
		t.Fatalf("fee rates mismatch: maker %s taker %s", v.Market.MakerFeeRate, v.Market.TakerFeeRate)
	}
	if v.Registry.Len() != 2 {
		t.Fatalf("registry size mismatch: %d", v.Registry.Len())
	}
	if len(v.Symbols) != 1 || v.Symbols[0] != "BTCUSDT" {
		t.Fatalf("driven symbols mismatch: %v", v.Symbols)
	}

	if loaded.Sim.Resolution != time.Minute {
		t.Fatalf("resolution mismatch: %v", loaded.Sim.Resolution)
	}
	if loaded.Sim.Policy != sim.LoadIncremental {
		t.Fatalf("policy mismatch: %v", loaded.Sim.Policy)
	}
	if filepath.Base(loaded.HistoryDir) != "candles" || !filepath.IsAbs(loaded.HistoryDir) {
		t.Fatalf("history dir not resolved: %s", loaded.HistoryDir)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	testCases := []struct {
		desc    string
		mutate  func(cfg *FileConfig)
		wantErr error
	}{
		{"no venues", func(cfg *FileConfig) { cfg.Venues = nil }, ErrNoVenues},
		{"end before start", func(cfg *FileConfig) { cfg.Simulation.End = cfg.Simulation.Start }, ErrBadTimeRange},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := FileConfig{
				Venues: []VenueConfig{{Name: "x", SymbolTable: "nope.json"}},
				Simulation: SimulationConfig{
					Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
				},
			}
			tc.mutate(&cfg)
			_, err := resolve(cfg, t.TempDir())
			if err != tc.wantErr {
				t.Fatalf("expected %v, got %+v", tc.wantErr, err)
			}
		})
	}
}

func TestAssembleAndRun(t *testing.T) {
	path := writeConfig(t)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %+v", err)
	}

	src := candle.NewMemorySource()
	start := loaded.Sim.Start
	for i := 1; i <= 3; i++ {
		src.Add("binance", "BTCUSDT", candle.Candle{
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
			CloseTime: start.Add(time.Duration(i) * time.Minute),
		})
	}

	s, markets, err := Assemble(loaded, src)
	if err != nil {
		t.Fatalf("assemble failed: %+v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("market count mismatch: %d", len(markets))
	}
	if got := markets[0].Balance("USDT").Free; !got.Equal(loaded.Deposits[0].Amount) {
		t.Fatalf("deposit not applied: %s", got)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %+v", err)
	}
	if got := s.Metrics().Snapshot().Candles; got != 3 {
		t.Fatalf("candles delivered: got %d want 3", got)
	}
}
