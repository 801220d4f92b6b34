package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmkteam/embedlog"

	"tally/pkg/money"
)

// Extractor parses free-form text into record candidates.
type Extractor interface {
	ExtractRecords(ctx context.Context, text string, accounts []string) ([]ExtractedRecord, error)
}

// ExtractedRecord represents a record candidate parsed from user text.
type ExtractedRecord struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	Account     string  `json:"account"`
}

// MockExtractor is a deterministic Extractor for tests and local runs.
type MockExtractor struct {
	logger embedlog.Logger
}

// NewMockExtractor creates a new mock extractor
func NewMockExtractor(logger embedlog.Logger) *MockExtractor {
	return &MockExtractor{logger: logger}
}

// ExtractRecords splits the text on commas and runs the amount parser on the
// first chunk, treating the rest as description.
func (m *MockExtractor) ExtractRecords(ctx context.Context, text string, accounts []string) ([]ExtractedRecord, error) {
	m.logger.Print(ctx, "mock extract records", "text", text, "accounts", accounts)

	parts := strings.SplitN(text, ",", 2)
	amount, err := money.Parse(parts[0])
	if err != nil {
		return nil, err
	}

	rec := ExtractedRecord{
		Amount:   amount.Value.InexactFloat64(),
		Currency: string(amount.Currency),
	}
	if len(parts) > 1 {
		rec.Description = strings.TrimSpace(parts[1])
	}

	for _, acc := range accounts {
		if strings.Contains(strings.ToLower(text), strings.ToLower(acc)) {
			rec.Account = acc
			break
		}
	}

	return []ExtractedRecord{rec}, nil
}

// FormatRecordDetails formats extracted records for user confirmation
func FormatRecordDetails(records []ExtractedRecord) string {
	var b strings.Builder

	for _, r := range records {
		fmt.Fprintf(&b, "💰 %.2f %s — %s", r.Amount, r.Currency, r.Description)
		if r.Account != "" {
			fmt.Fprintf(&b, " (%s)", r.Account)
		}
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}
