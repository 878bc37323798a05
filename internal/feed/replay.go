package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/link-light/apexquant/pkg/types"
)

// csvColumns is the required header of a replay file.
var csvColumns = []string{"symbol", "timestamp", "last_price", "bid_price", "ask_price", "volume", "last_close"}

// ReplayCSV streams ticks from a CSV file in file order, calling handle for
// each row. The handler returning an error stops the replay. Rows must be
// time-sorted by the producer; the replayer does not reorder.
func ReplayCSV(path string, handle func(types.TickSnapshot) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read replay header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return err
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read replay row: %w", err)
		}
		tick, err := parseRow(record)
		if err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
		if err := handle(tick); err != nil {
			return err
		}
	}
}

// LoadCSV reads an entire replay file into memory.
func LoadCSV(path string) ([]types.TickSnapshot, error) {
	var ticks []types.TickSnapshot
	err := ReplayCSV(path, func(tick types.TickSnapshot) error {
		ticks = append(ticks, tick)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticks, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvColumns) {
		return fmt.Errorf("replay header has %d columns, want %d", len(header), len(csvColumns))
	}
	for i, want := range csvColumns {
		if header[i] != want {
			return fmt.Errorf("replay header column %d is %q, want %q", i, header[i], want)
		}
	}
	return nil
}

func parseRow(record []string) (types.TickSnapshot, error) {
	if len(record) != len(csvColumns) {
		return types.TickSnapshot{}, fmt.Errorf("row has %d columns, want %d", len(record), len(csvColumns))
	}

	ts, err := strconv.ParseInt(record[1], 10, 64)
	if err != nil {
		return types.TickSnapshot{}, fmt.Errorf("bad timestamp %q: %w", record[1], err)
	}
	volume, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return types.TickSnapshot{}, fmt.Errorf("bad volume %q: %w", record[5], err)
	}

	prices := make([]float64, 4)
	for i, col := range []int{2, 3, 4, 6} {
		v, err := strconv.ParseFloat(record[col], 64)
		if err != nil {
			return types.TickSnapshot{}, fmt.Errorf("bad %s %q: %w", csvColumns[col], record[col], err)
		}
		prices[i] = v
	}

	return types.TickSnapshot{
		Symbol:    record[0],
		Timestamp: ts,
		LastPrice: prices[0],
		BidPrice:  prices[1],
		AskPrice:  prices[2],
		Volume:    volume,
		LastClose: prices[3],
	}, nil
}
