package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var ErrNoCredentials = errors.New("no service account credentials configured")

// CredentialsSource names where the service account key comes from, an
// inline JSON blob takes priority over a file path.
type CredentialsSource struct {
	JSON string
	File string
}

func LoadCredentials(ctx context.Context, src CredentialsSource) (*google.Credentials, error) {
	blob := []byte(src.JSON)
	if len(blob) == 0 {
		if src.File == "" {
			return nil, ErrNoCredentials
		}
		var err error
		blob, err = os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
	}
	creds, err := google.CredentialsFromJSON(ctx, blob, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// GoogleSheet is a Sheet backed by the Google Sheets v4 API.
type GoogleSheet struct {
	svc *sheets.Service
	id  string
}

// OpenGoogle prepares a client for the spreadsheet `id`, no request is made
// until a tab is resolved.
func OpenGoogle(ctx context.Context, creds *google.Credentials, id string) (*GoogleSheet, error) {
	return openGoogle(ctx, id, option.WithCredentials(creds))
}

func openGoogle(ctx context.Context, id string, opts ...option.ClientOption) (*GoogleSheet, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleSheet{svc: svc, id: id}, nil
}

func (s *GoogleSheet) GetOrCreateTab(ctx context.Context, name string) (Tab, error) {
	res, err := s.svc.Spreadsheets.Get(s.id).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, sh := range res.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			return googleTab{sheet: s, name: name}, nil
		}
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    DefaultRows,
						ColumnCount: DefaultCols,
					},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("add tab: %w", err)
	}
	return googleTab{sheet: s, name: name}, nil
}

type googleTab struct {
	sheet *GoogleSheet
	name  string
}

func (t googleTab) Name() string {
	return t.name
}

// a1 quotes the tab title for use in A1 notation.
func a1(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func (t googleTab) Clear(ctx context.Context) error {
	_, err := t.sheet.svc.Spreadsheets.Values.
		Clear(t.sheet.id, a1(t.name), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

func (t googleTab) WriteRows(ctx context.Context, header []string, rows [][]any) error {
	values := make([][]any, 0, len(rows)+1)
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	values = append(values, headerRow)
	values = append(values, rows...)

	_, err := t.sheet.svc.Spreadsheets.Values.
		Update(t.sheet.id, a1(t.name)+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}
