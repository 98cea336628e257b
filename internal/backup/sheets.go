package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultSheetsBaseURL = "https://sheets.googleapis.com"
	defaultDriveBaseURL  = "https://www.googleapis.com"
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultRetryBudget   = 15 * time.Second
)

// TokenSource yields the bearer credential for the external account and
// supports the authorization handshake and revocation.
type TokenSource interface {
	Authorize(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	Revoke(ctx context.Context) error
}

// SpreadsheetAPI is the tabular-document boundary the adapter consumes:
// locate or create a document by name, overwrite a range with a 2-D table,
// read a range back.
type SpreadsheetAPI interface {
	FindSpreadsheet(ctx context.Context, title string) (string, error)
	CreateSpreadsheet(ctx context.Context, title string) (string, error)
	UpdateValues(ctx context.Context, spreadsheetID, valueRange string, values [][]string) error
	GetValues(ctx context.Context, spreadsheetID, valueRange string) ([][]string, error)
}

// SheetsClientConfig configures the REST client for the Drive and Sheets
// endpoints.
type SheetsClientConfig struct {
	Tokens       TokenSource
	HTTPClient   *http.Client
	SheetsBase   string
	DriveBase    string
	RetryBackoff time.Duration
	RetryBudget  time.Duration
}

// SheetsClient implements SpreadsheetAPI against the Google Drive v3 and
// Sheets v4 REST endpoints. Requests that fail with a server-side or
// transport error are retried with fibonacci backoff inside a bounded
// budget; client-side rejections are returned immediately.
type SheetsClient struct {
	tokens       TokenSource
	httpClient   *http.Client
	sheetsBase   string
	driveBase    string
	retryBackoff time.Duration
	retryBudget  time.Duration
}

// NewSheetsClient constructs the client with validated configuration.
func NewSheetsClient(cfg SheetsClientConfig) (*SheetsClient, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("backup: token source is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	sheetsBase := strings.TrimSuffix(cfg.SheetsBase, "/")
	if sheetsBase == "" {
		sheetsBase = defaultSheetsBaseURL
	}
	driveBase := strings.TrimSuffix(cfg.DriveBase, "/")
	if driveBase == "" {
		driveBase = defaultDriveBaseURL
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	budget := cfg.RetryBudget
	if budget <= 0 {
		budget = defaultRetryBudget
	}
	return &SheetsClient{
		tokens:       cfg.Tokens,
		httpClient:   httpClient,
		sheetsBase:   sheetsBase,
		driveBase:    driveBase,
		retryBackoff: backoff,
		retryBudget:  budget,
	}, nil
}

type driveFileList struct {
	Files []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"files"`
}

// FindSpreadsheet returns the identifier of the first non-trashed
// spreadsheet carrying the title, or the empty string when none exists.
func (c *SheetsClient) FindSpreadsheet(ctx context.Context, title string) (string, error) {
	query := fmt.Sprintf("mimeType='application/vnd.google-apps.spreadsheet' and name='%s' and trashed=false", title)
	endpoint := fmt.Sprintf("%s/drive/v3/files?q=%s&fields=files(id,name)", c.driveBase, url.QueryEscape(query))

	var listing driveFileList
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &listing); err != nil {
		return "", err
	}
	if len(listing.Files) == 0 {
		return "", nil
	}
	return listing.Files[0].ID, nil
}

type createSpreadsheetRequest struct {
	Properties struct {
		Title string `json:"title"`
	} `json:"properties"`
}

type createSpreadsheetResponse struct {
	SpreadsheetID string `json:"spreadsheetId"`
}

// CreateSpreadsheet creates an empty spreadsheet with the given title and
// returns its identifier.
func (c *SheetsClient) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets", c.sheetsBase)
	request := createSpreadsheetRequest{}
	request.Properties.Title = title

	var response createSpreadsheetResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, request, &response); err != nil {
		return "", err
	}
	if response.SpreadsheetID == "" {
		return "", fmt.Errorf("%w: create returned no spreadsheet id", ErrProviderUnavailable)
	}
	return response.SpreadsheetID, nil
}

type valueRangePayload struct {
	Values [][]string `json:"values"`
}

// UpdateValues overwrites the named range with the given table.
func (c *SheetsClient) UpdateValues(ctx context.Context, spreadsheetID, valueRange string, values [][]string) error {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?valueInputOption=USER_ENTERED",
		c.sheetsBase, url.PathEscape(spreadsheetID), url.PathEscape(valueRange))
	return c.doJSON(ctx, http.MethodPut, endpoint, valueRangePayload{Values: values}, nil)
}

// GetValues reads the named range back as a 2-D table.
func (c *SheetsClient) GetValues(ctx context.Context, spreadsheetID, valueRange string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		c.sheetsBase, url.PathEscape(spreadsheetID), url.PathEscape(valueRange))

	var payload valueRangePayload
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Values, nil
}

func (c *SheetsClient) doJSON(ctx context.Context, method, endpoint string, requestBody, responseBody any) error {
	var encoded []byte
	if requestBody != nil {
		var err error
		encoded, err = json.Marshal(requestBody)
		if err != nil {
			return err
		}
	}

	backoff := retry.WithMaxDuration(c.retryBudget, retry.NewFibonacci(c.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthDenied, err)
		}

		var bodyReader io.Reader
		if encoded != nil {
			bodyReader = bytes.NewReader(encoded)
		}
		request, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return err
		}
		request.Header.Set("Authorization", "Bearer "+token)
		if encoded != nil {
			request.Header.Set("Content-Type", "application/json")
		}

		response, err := c.httpClient.Do(request)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
		}
		defer response.Body.Close()

		switch {
		case response.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrProviderUnavailable, response.StatusCode))
		case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrAuthDenied, response.StatusCode)
		case response.StatusCode >= http.StatusBadRequest:
			return fmt.Errorf("%w: status %d", ErrProviderUnavailable, response.StatusCode)
		}

		if responseBody == nil {
			return nil
		}
		return json.NewDecoder(response.Body).Decode(responseBody)
	})
}
