package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/config"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// valuesService Sheets 存储用到的最小接口，便于测试替换
type valuesService interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Append(ctx context.Context, rng string, rows [][]any) error
	Update(ctx context.Context, rng string, rows [][]any) error
	EnsureSheet(ctx context.Context, title string) error
}

// SheetsStore 以 Google Sheets 工作表作为记录存储，水位线存放在单独的工作表
type SheetsStore struct {
	svc        valuesService
	worksheet  string
	stateSheet string
}

// NewSheetsStore 使用服务账号凭据连接表格，并确保工作表和表头存在
func NewSheetsStore(ctx context.Context, credentialsJSON []byte, cfg config.SheetsConfig) (*SheetsStore, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newSheetsStore(ctx, &sheetsAPI{srv: srv, spreadsheetID: cfg.SpreadsheetID}, cfg)
}

func newSheetsStore(ctx context.Context, svc valuesService, cfg config.SheetsConfig) (*SheetsStore, error) {
	s := &SheetsStore{
		svc:        svc,
		worksheet:  cfg.Worksheet,
		stateSheet: cfg.StateWorksheet,
	}
	for _, title := range []string{s.worksheet, s.stateSheet} {
		if err := svc.EnsureSheet(ctx, title); err != nil {
			return nil, fmt.Errorf("ensure worksheet %q: %w", title, err)
		}
	}

	header, err := svc.Get(ctx, a1(s.worksheet, "A1:J1"))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || len(header[0]) == 0 {
		logger.Log.Infof("工作表 %q 为空，写入表头", s.worksheet)
		if err := svc.Update(ctx, a1(s.worksheet, "A1:J1"), [][]any{toCells(Header)}); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

func (s *SheetsStore) AppendRecord(ctx context.Context, rec model.ClassifiedRecord) error {
	if err := s.svc.Append(ctx, a1(s.worksheet, "A:J"), [][]any{toCells(EncodeRow(rec))}); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

func (s *SheetsStore) ListRecords(ctx context.Context) ([]model.ClassifiedRecord, error) {
	rows, err := s.svc.Get(ctx, a1(s.worksheet, "A2:J"))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	records := make([]model.ClassifiedRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := DecodeRow(fromCells(row))
		if err != nil {
			logger.Log.Warnf("跳过第 %d 行: %v", i+2, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SheetsStore) ReadWatermark(ctx context.Context) (time.Time, bool, error) {
	rows, err := s.svc.Get(ctx, a1(s.stateSheet, "A1:B1"))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return time.Time{}, false, nil
	}
	v := strings.TrimSpace(fmt.Sprint(rows[0][1]))
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", v, err)
	}
	return t, true, nil
}

func (s *SheetsStore) WriteWatermark(ctx context.Context, t time.Time) error {
	row := []any{watermarkKey, t.UTC().Format(time.RFC3339)}
	if err := s.svc.Update(ctx, a1(s.stateSheet, "A1:B1"), [][]any{row}); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (s *SheetsStore) Close() error {
	return nil
}

// a1 拼接带工作表名的 A1 区间，工作表名含空格时需要加引号
func a1(sheet, rng string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}

func toCells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func fromCells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// sheetsAPI 对 sheets/v4 的薄封装
type sheetsAPI struct {
	srv           *sheets.Service
	spreadsheetID string
}

func (a *sheetsAPI) Get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := a.srv.Spreadsheets.Values.Get(a.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a *sheetsAPI) Append(ctx context.Context, rng string, rows [][]any) error {
	_, err := a.srv.Spreadsheets.Values.Append(a.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (a *sheetsAPI) Update(ctx context.Context, rng string, rows [][]any) error {
	_, err := a.srv.Spreadsheets.Values.Update(a.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (a *sheetsAPI) EnsureSheet(ctx context.Context, title string) error {
	ss, err := a.srv.Spreadsheets.Get(a.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	logger.Log.Infof("创建工作表 %q", title)
	_, err = a.srv.Spreadsheets.BatchUpdate(a.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	return err
}
