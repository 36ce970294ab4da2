// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// Status filters
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// ErrNoTrades is returned when nothing matches the export filters.
var ErrNoTrades = errors.New("no trades match the export criteria")

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format       ExportFormat
	StartTime    time.Time // по времени покупки
	EndTime      time.Time
	TokenFilter  string
	StatusFilter string // "open", "closed" или пусто
	OutputDir    string
}

// TradeExporter writes ledger trade history to files for offline analysis.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTradeExporter creates a new trade exporter
func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportTrades filters, sorts by buy time and writes trades. It returns the
// path of the written file.
func (te *TradeExporter) ExportTrades(trades []ledger.Trade, options ExportOptions) (string, error) {
	filtered := filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", ErrNoTrades
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TimeBuy.Before(filtered[j].TimeBuy)
	})

	if err := os.MkdirAll(options.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = te.writeJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func filterTrades(trades []ledger.Trade, options ExportOptions) []ledger.Trade {
	var filtered []ledger.Trade

	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.TimeBuy.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && trade.TimeBuy.After(options.EndTime) {
			continue
		}
		if options.TokenFilter != "" && trade.TokenMint != options.TokenFilter {
			continue
		}
		switch options.StatusFilter {
		case StatusOpen:
			if !trade.Open() {
				continue
			}
		case StatusClosed:
			if trade.Open() {
				continue
			}
		}
		filtered = append(filtered, trade)
	}

	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	prefix := "trades_all"
	if options.StatusFilter != "" {
		prefix = "trades_" + options.StatusFilter
	}
	if token := options.TokenFilter; token != "" {
		if len(token) > 8 {
			token = token[:8]
		}
		prefix += "_" + token
	}
	return fmt.Sprintf("%s_%s.%s", prefix, te.now().Format("20060102_150405"), options.Format)
}

// CSVHeaders follows the simulated_trades column order.
func CSVHeaders() []string {
	return []string{
		"id", "token_name", "token_mint", "amount_sol", "amount_token",
		"buy_price", "buy_fees", "buy_slippage", "sell_price", "sell_fees",
		"sell_slippage", "time_buy", "time_sell", "pnl", "market_cap",
		"volume_m5", "liquidity_buy_usd", "liquidity_sell_usd",
	}
}

func csvRow(t ledger.Trade) []string {
	timeSell := ""
	if t.TimeSell != nil {
		timeSell = t.TimeSell.Format(time.RFC3339)
	}
	return []string{
		strconv.FormatUint(uint64(t.ID), 10),
		t.TokenName,
		t.TokenMint,
		t.AmountSOL.String(),
		t.AmountToken.String(),
		t.BuyPrice.String(),
		t.BuyFee.String(),
		t.BuySlippage.String(),
		nullString(t.SellPrice),
		nullString(t.SellFee),
		nullString(t.SellSlippage),
		t.TimeBuy.Format(time.RFC3339),
		timeSell,
		nullString(t.PnL),
		t.Market.MarketCap.String(),
		t.Market.VolumeM5.String(),
		t.Market.LiquidityUSD.String(),
		nullString(t.LiquiditySellUSD),
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func writeCSV(trades []ledger.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(csvRow(trade)); err != nil {
			return fmt.Errorf("failed to write trade %d: %w", trade.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (te *TradeExporter) writeJSON(trades []ledger.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time      `json:"export_time"`
		TradeCount int            `json:"trade_count"`
		Trades     []ledger.Trade `json:"trades"`
		Summary    ExportSummary  `json:"summary"`
	}{
		ExportTime: te.now(),
		TradeCount: len(trades),
		Trades:     trades,
		Summary:    CalculateSummary(trades),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades    int             `json:"total_trades"`
	OpenTrades     int             `json:"open_trades"`
	ClosedTrades   int             `json:"closed_trades"`
	UniqueTokens   int             `json:"unique_tokens"`
	TotalBuyVolume decimal.Decimal `json:"total_buy_volume"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	WinCount       int             `json:"win_count"`
	LossCount      int             `json:"loss_count"`
	WinRate        float64         `json:"win_rate"`
	AvgPnL         decimal.Decimal `json:"avg_pnl"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
}

// CalculateSummary aggregates trades; they are expected sorted by buy time.
func CalculateSummary(trades []ledger.Trade) ExportSummary {
	summary := ExportSummary{
		TotalTrades:    len(trades),
		TotalBuyVolume: decimal.Zero,
		TotalFees:      decimal.Zero,
		TotalPnL:       decimal.Zero,
		AvgPnL:         decimal.Zero,
	}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].TimeBuy
	summary.EndDate = trades[len(trades)-1].TimeBuy

	tokens := make(map[string]struct{})
	for _, trade := range trades {
		tokens[trade.TokenMint] = struct{}{}
		summary.TotalBuyVolume = summary.TotalBuyVolume.Add(trade.AmountSOL)
		summary.TotalFees = summary.TotalFees.Add(trade.BuyFee)

		if trade.Open() {
			summary.OpenTrades++
			continue
		}
		summary.ClosedTrades++
		if trade.SellFee.Valid {
			summary.TotalFees = summary.TotalFees.Add(trade.SellFee.Decimal)
		}
		if !trade.PnL.Valid {
			continue
		}
		summary.TotalPnL = summary.TotalPnL.Add(trade.PnL.Decimal)
		switch trade.PnL.Decimal.Sign() {
		case 1:
			summary.WinCount++
		case -1:
			summary.LossCount++
		}
	}

	summary.UniqueTokens = len(tokens)
	if summary.ClosedTrades > 0 {
		summary.WinRate = float64(summary.WinCount) / float64(summary.ClosedTrades) * 100
		summary.AvgPnL = summary.TotalPnL.Div(decimal.NewFromInt(int64(summary.ClosedTrades)))
	}
	return summary
}

// DailyReport represents a daily trading report
type DailyReport struct {
	Date            time.Time      `json:"date"`
	TradeCount      int            `json:"trade_count"`
	Summary         ExportSummary  `json:"summary"`
	HourlyBreakdown []HourlyStats  `json:"hourly_breakdown"`
	Trades          []ledger.Trade `json:"trades"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour       int             `json:"hour"`
	TradeCount int             `json:"trade_count"`
	Closed     int             `json:"closed"`
	Volume     decimal.Decimal `json:"volume"`
	PnL        decimal.Decimal `json:"pnl"`
}

// ExportDailyReport writes the report for trades bought on date. It returns
// an empty path when there were no trades that day.
func (te *TradeExporter) ExportDailyReport(trades []ledger.Trade, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour).Add(-time.Nanosecond)

	filtered := filterTrades(trades, ExportOptions{StartTime: startOfDay, EndTime: endOfDay})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TimeBuy.Before(filtered[j].TimeBuy)
	})

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Trades:          filtered,
		Summary:         CalculateSummary(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered, date.Location()),
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

func hourlyBreakdown(trades []ledger.Trade, loc *time.Location) []HourlyStats {
	byHour := make(map[int]*HourlyStats)

	for _, trade := range trades {
		hour := trade.TimeBuy.In(loc).Hour()
		stats, ok := byHour[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour, Volume: decimal.Zero, PnL: decimal.Zero}
			byHour[hour] = stats
		}

		stats.TradeCount++
		stats.Volume = stats.Volume.Add(trade.AmountSOL)
		if !trade.Open() {
			stats.Closed++
			if trade.PnL.Valid {
				stats.PnL = stats.PnL.Add(trade.PnL.Decimal)
			}
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := byHour[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
