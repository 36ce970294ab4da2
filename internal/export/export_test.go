package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
)

const (
	mintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func generateTestTrades() []ledger.Trade {
	closedAt := day.Add(10*time.Hour + 30*time.Minute)
	return []ledger.Trade{
		{
			ID: 2, TokenMint: mintUSDC, TokenName: "USDC",
			AmountSOL: d("0.5"), AmountToken: d("80"), BuyPrice: d("0.00625"),
			BuyFee: d("0.0005"), BuySlippage: d("0"),
			TimeBuy: day.Add(11 * time.Hour),
		},
		{
			ID: 1, TokenMint: mintBONK, TokenName: "BONK",
			AmountSOL: d("1.5"), AmountToken: d("1000"), BuyPrice: d("0.0015"),
			BuyFee: d("0.001"), BuySlippage: d("0"),
			TimeBuy:   day.Add(10 * time.Hour),
			SellPrice: decimal.NewNullDecimal(d("0.002")),
			SellFee:   decimal.NewNullDecimal(d("0.0008")),
			TimeSell:  &closedAt,
			PnL:       decimal.NewNullDecimal(d("0.4982")),
		},
		{
			ID: 3, TokenMint: mintBONK, TokenName: "BONK",
			AmountSOL: d("1"), AmountToken: d("700"), BuyPrice: d("0.0014"),
			BuyFee: d("0.001"), BuySlippage: d("0"),
			TimeBuy: day.Add(26 * time.Hour),
		},
	}
}

func TestTradeExportCSV(t *testing.T) {
	exporter := NewTradeExporter(zap.NewNop())

	outputPath, err := exporter.ExportTrades(generateTestTrades(), ExportOptions{
		Format:    FormatCSV,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	f, err := os.Open(outputPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, CSVHeaders(), records[0])

	// отсортировано по времени покупки
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "0.4982", records[1][13])
	assert.Equal(t, "2", records[2][0])
	assert.Equal(t, "", records[2][8], "open trade has no sell price")
}

func TestTradeExportJSONSummary(t *testing.T) {
	exporter := NewTradeExporter(zap.NewNop())

	outputPath, err := exporter.ExportTrades(generateTestTrades(), ExportOptions{
		Format:      FormatJSON,
		OutputDir:   t.TempDir(),
		TokenFilter: mintBONK,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(outputPath), "trades_all_DezXAZ8z_"))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var payload struct {
		TradeCount int           `json:"trade_count"`
		Summary    ExportSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(content, &payload))
	assert.Equal(t, 2, payload.TradeCount)
	assert.Equal(t, 1, payload.Summary.OpenTrades)
	assert.Equal(t, 1, payload.Summary.WinCount)
	assert.True(t, d("0.4982").Equal(payload.Summary.TotalPnL))
	assert.True(t, d("2.5").Equal(payload.Summary.TotalBuyVolume))
}

func TestExportFilters(t *testing.T) {
	exporter := NewTradeExporter(zap.NewNop())
	trades := generateTestTrades()

	closed := filterTrades(trades, ExportOptions{StatusFilter: StatusClosed})
	require.Len(t, closed, 1)
	assert.Equal(t, uint(1), closed[0].ID)

	open := filterTrades(trades, ExportOptions{StatusFilter: StatusOpen, EndTime: day.Add(24 * time.Hour)})
	require.Len(t, open, 1)
	assert.Equal(t, uint(2), open[0].ID)

	_, err := exporter.ExportTrades(trades, ExportOptions{
		Format:      FormatCSV,
		OutputDir:   t.TempDir(),
		TokenFilter: "nothing",
	})
	assert.ErrorIs(t, err, ErrNoTrades)

	_, err = exporter.ExportTrades(trades, ExportOptions{Format: "xml", OutputDir: t.TempDir()})
	assert.Error(t, err)
}

func TestExportDailyReport(t *testing.T) {
	exporter := NewTradeExporter(zap.NewNop())
	dir := t.TempDir()

	path, err := exporter.ExportDailyReport(generateTestTrades(), day.Add(15*time.Hour), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "daily_report_20240501.json"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var report DailyReport
	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, 2, report.TradeCount)
	require.Len(t, report.HourlyBreakdown, 2)
	assert.Equal(t, 10, report.HourlyBreakdown[0].Hour)
	assert.Equal(t, 1, report.HourlyBreakdown[0].Closed)

	empty, err := exporter.ExportDailyReport(generateTestTrades(), day.Add(72*time.Hour), dir)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
