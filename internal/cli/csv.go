package cli

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
)

// ReadRecordsFile loads raw records from a .csv or .json file.
func ReadRecordsFile(path string, feed model.FeedType) ([]normalizer.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var raws []normalizer.RawRecord
		if err := json.NewDecoder(f).Decode(&raws); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		for i := range raws {
			if raws[i].Source == "" {
				raws[i].Source = feed
			}
		}
		return raws, nil
	}
	return ReadRecordsCSV(f, feed)
}

// ReadRecordsCSV parses raw records from CSV with a header row: source,
// external_id, reference, amount, date, description, counterparty_name,
// counterparty_email. Only amount and date are required; source may come
// from feed instead. Values reach the normalizer as the feed sent them.
func ReadRecordsCSV(r io.Reader, feed model.FeedType) ([]normalizer.RawRecord, error) {
	rows, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{"amount", "date"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}
	if _, ok := header["source"]; !ok && feed == "" {
		return nil, errors.New("no source column and no feed given")
	}

	raws := make([]normalizer.RawRecord, 0, len(rows))
	for _, row := range rows {
		get := cell(header, row)
		raw := normalizer.RawRecord{
			Source:            model.FeedType(get("source")),
			ExternalID:        get("external_id"),
			Reference:         get("reference"),
			Amount:            get("amount"),
			Date:              get("date"),
			Description:       get("description"),
			CounterpartyName:  get("counterparty_name"),
			CounterpartyEmail: get("counterparty_email"),
		}
		if raw.Source == "" {
			raw.Source = feed
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// ReadTransactionsCSV parses charters: key, party_id, service_date,
// due_amount, deposit, status. Balance starts at the due amount.
func ReadTransactionsCSV(r io.Reader) ([]model.BusinessTransaction, error) {
	rows, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{"key", "service_date", "due_amount"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	txns := make([]model.BusinessTransaction, 0, len(rows))
	for i, row := range rows {
		get := cell(header, row)
		line := i + 2

		serviceDate, err := time.Parse(model.DateLayout, get("service_date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: service_date: %w", line, err)
		}
		due, err := decimal.NewFromString(get("due_amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: due_amount: %w", line, err)
		}
		deposit := decimal.Zero
		if v := get("deposit"); v != "" {
			if deposit, err = decimal.NewFromString(v); err != nil {
				return nil, fmt.Errorf("line %d: deposit: %w", line, err)
			}
		}
		txns = append(txns, model.BusinessTransaction{
			Key:         get("key"),
			PartyID:     get("party_id"),
			ServiceDate: serviceDate,
			DueAmount:   due,
			Deposit:     deposit,
			Balance:     due,
			Status:      model.TransactionStatus(get("status")),
		})
	}
	return txns, nil
}

// ReadPartiesCSV parses customers: id, name, email.
func ReadPartiesCSV(r io.Reader) ([]model.Party, error) {
	rows, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{"id", "name"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	parties := make([]model.Party, 0, len(rows))
	for _, row := range rows {
		get := cell(header, row)
		parties = append(parties, model.Party{ID: get("id"), Name: get("name"), Email: get("email")})
	}
	return parties, nil
}

func readCSV(r io.Reader) ([][]string, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("csv is empty")
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return records[1:], header, nil
}

func cell(header map[string]int, row []string) func(string) string {
	return func(name string) string {
		i, ok := header[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
}
