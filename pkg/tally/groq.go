package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tally/pkg/services"
)

const model = "llama-3.1-8b-instant"

const systemPrompt = `You are a personal finance record parser. Extract transactions from the text and return ONLY a valid JSON array.
Each request contains the user's saved account names and the text to parse.

Response format (ARRAY):
[
  {
    "amount": <number>,
    "currency": "EUR|USD|CHF|GBP|X",
    "description": "<string>",
    "account": "<string or empty>"
  }
]

Rules:
- amount is always a floating point number (e.g. -12.50, 1200.0)
- expenses are negative, income is positive; assume an expense unless the text clearly says income
- currency "X" means unknown; use it when no currency is mentioned
- if the account is not one of the saved names, leave it empty
- description should be short and must not repeat the amount or account
- return ONLY the JSON array, no explanations, no markdown

Examples:
Saved accounts: Cash, Visa

Input: "coffee 3.50 euro paid cash"
Output: [{"amount": -3.50, "currency": "EUR", "description": "coffee", "account": "Cash"}]

Input: "got 200 usd salary advance"
Output: [{"amount": 200.0, "currency": "USD", "description": "salary advance", "account": ""}]

Input: "groceries 45 and taxi 12, both on visa"
Output: [{"amount": -45.0, "currency": "X", "description": "groceries", "account": "Visa"}, {"amount": -12.0, "currency": "X", "description": "taxi", "account": "Visa"}]`

type Groq struct {
	token string
}

func NewGroq(token string) *Groq {
	return &Groq{
		token: token,
	}
}

type groqRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type GroqRole string

const (
	SystemRole    GroqRole = "system"
	UserRole      GroqRole = "user"
	AssistantRole GroqRole = "assistant"
)

func (g *Groq) callGroq(ctx context.Context, userPrompt string) (string, error) {
	reqBody := groqRequest{
		Model: model,
		Messages: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: string(SystemRole), Content: systemPrompt},
			{Role: string(UserRole), Content: userPrompt},
		},
	}

	jsonData, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.groq.com/openai/v1/chat/completions",
		bytes.NewBuffer(jsonData))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error: %s", string(body))
	}

	var result groqResponse
	err = json.Unmarshal(body, &result)
	if err != nil {
		return "", fmt.Errorf("failed to parse groq response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", errors.New("no response from groq")
	}

	return result.Choices[0].Message.Content, nil
}

func buildRecordPrompt(text string, accounts []string) string {
	return fmt.Sprintf("Saved accounts: %s\n\nUser text: %s\n", strings.Join(accounts, ", "), text)
}

// ExtractRecords implements services.Extractor on top of the Groq chat API.
func (g *Groq) ExtractRecords(ctx context.Context, text string, accounts []string) ([]services.ExtractedRecord, error) {
	prompt := buildRecordPrompt(text, accounts)

	response, err := g.callGroq(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("groq api call failed: %w", err)
	}

	var records []services.ExtractedRecord
	if err := json.Unmarshal([]byte(response), &records); err != nil {
		return nil, fmt.Errorf("failed to parse groq response: %w, response: %s", err, response)
	}

	return records, nil
}
