// Package ops loads and resolves the backtest configuration: venue
// fee tables, symbol tables, simulation window and the optional run
// store.
package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/candle"
	"main/internal/errors"
	"main/internal/market"
	"main/internal/sim"
	"main/internal/venue"
)

var (
	ErrNoVenues     = errors.New("config defines no venues")
	ErrBadTimeRange = errors.New("simulation end must be after start")
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Venues     []VenueConfig    `json:"venues"`
	Simulation SimulationConfig `json:"simulation"`
	Deposits   []DepositConfig  `json:"deposits"`
	History    HistoryConfig    `json:"history"`
	Store      StoreConfig      `json:"store"`
}

// VenueConfig describes one emulated exchange.
type VenueConfig struct {
	Name           string          `json:"name"`
	MakerFeeRate   decimal.Decimal `json:"makerFeeRate"`
	TakerFeeRate   decimal.Decimal `json:"takerFeeRate"`
	BorrowAllowed  bool            `json:"borrowAllowed"`
	SpreadFraction float64         `json:"spreadFraction"`
	IntrabarFill   bool            `json:"intrabarFill"`
	SymbolTable    string          `json:"symbolTable"`

	// Symbols lists the feeds to drive; empty means every symbol in
	// the table.
	Symbols []string `json:"symbols"`
}

// SimulationConfig describes the stepping window.
type SimulationConfig struct {
	ResolutionSeconds int       `json:"resolutionSeconds"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	LoadPolicy        string    `json:"loadPolicy"`
	StallLimit        int       `json:"stallLimit"`
}

// DepositConfig seeds a free balance before the run.
type DepositConfig struct {
	Venue  string          `json:"venue"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// HistoryConfig locates the candle files.
type HistoryConfig struct {
	Dir string `json:"dir"`
}

// StoreConfig describes the optional Postgres run store.
type StoreConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
	RunID    string `json:"runId"`
}

// VenueRuntime is a resolved venue: its market config, symbol
// registry and the feeds to drive.
type VenueRuntime struct {
	Market   market.Config
	Registry *venue.Registry
	Symbols  []string
}

// Loaded is the resolved configuration ready for assembly.
type Loaded struct {
	Venues     []VenueRuntime
	Sim        sim.Config
	Deposits   []DepositConfig
	HistoryDir string
	Store      StoreConfig
}

// Load reads a JSON config file and resolves every venue table.
// Relative symbol table paths resolve against the config file's
// directory.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return resolve(cfg, filepath.Dir(path))
}

func resolve(cfg FileConfig, baseDir string) (Loaded, error) {
	if len(cfg.Venues) == 0 {
		return Loaded{}, ErrNoVenues
	}
	if !cfg.Simulation.End.After(cfg.Simulation.Start) {
		return Loaded{}, ErrBadTimeRange
	}

	resolution := time.Duration(cfg.Simulation.ResolutionSeconds) * time.Second
	if resolution <= 0 {
		resolution = time.Minute
	}
	policy, err := sim.ParseLoadPolicy(cfg.Simulation.LoadPolicy)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Sim: sim.Config{
			Resolution: resolution,
			Start:      cfg.Simulation.Start,
			End:        cfg.Simulation.End,
			Policy:     policy,
			StallLimit: cfg.Simulation.StallLimit,
		},
		Deposits:   cfg.Deposits,
		HistoryDir: resolvePath(baseDir, cfg.History.Dir),
		Store:      cfg.Store,
	}

	for _, vc := range cfg.Venues {
		if vc.Name == "" {
			return Loaded{}, errors.New("venue name is empty")
		}
		reg, err := venue.LoadTable(resolvePath(baseDir, vc.SymbolTable))
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "venue %s", vc.Name)
		}
		symbols := vc.Symbols
		if len(symbols) == 0 {
			symbols = reg.Names()
		}
		loaded.Venues = append(loaded.Venues, VenueRuntime{
			Market: market.Config{
				Name:           vc.Name,
				MakerFeeRate:   vc.MakerFeeRate,
				TakerFeeRate:   vc.TakerFeeRate,
				BorrowAllowed:  vc.BorrowAllowed,
				SpreadFraction: vc.SpreadFraction,
				Resolution:     resolution,
				IntrabarFill:   vc.IntrabarFill,
			},
			Registry: reg,
			Symbols:  symbols,
		})
	}
	return loaded, nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Assemble builds the markets and the simulator from a resolved
// config. The caller owns the history source.
func Assemble(loaded Loaded, source candle.Source) (*sim.Simulator, []*market.Market, error) {
	seqs := market.NewSequences()
	markets := make([]*market.Market, 0, len(loaded.Venues))
	for _, v := range loaded.Venues {
		markets = append(markets, market.New(v.Market, v.Registry, seqs))
	}

	s := sim.New(loaded.Sim, source, markets...)
	for i, v := range loaded.Venues {
		for _, symbol := range v.Symbols {
			if err := s.AddFeed(markets[i].Name(), symbol); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, d := range loaded.Deposits {
		if err := s.Deposit(d.Venue, d.Asset, d.Amount); err != nil {
			return nil, nil, errors.Wrapf(err, "deposit %s %s", d.Venue, d.Asset)
		}
	}
	return s, markets, nil
}
