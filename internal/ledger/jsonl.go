package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/papertrade/ledger-engine/internal/model"
)

// DecodeTrades reads one JSON trade per line. Blank lines are skipped.
// Trades without a seq get their 1-based line number, so file order breaks
// executed_at ties.
func DecodeTrades(r io.Reader) ([]model.Trade, error) {
	var trades []model.Trade
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var t model.Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if t.Seq == 0 {
			t.Seq = int64(line)
		}
		trades = append(trades, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// EncodeTrades writes trades as JSON lines in replay order.
func EncodeTrades(w io.Writer, trades []model.Trade) error {
	enc := json.NewEncoder(w)
	for _, t := range Order(trades) {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}
