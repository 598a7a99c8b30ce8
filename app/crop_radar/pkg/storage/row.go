package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// Header 表格列顺序，写入和读取都依赖这个顺序
var Header = []string{
	"Date",
	"Title",
	"Source",
	"Category",
	"Companies Mentioned",
	"Funding Amount",
	"Summary",
	"URL",
	"Key Entities",
	"Added At",
}

const (
	colDate = iota
	colTitle
	colSource
	colCategory
	colCompanies
	colFunding
	colSummary
	colURL
	colEntities
	colAddedAt
	numColumns
)

const listSep = ", "

// 人工编辑过的表格里可能出现的时间格式
var addedAtLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

var errIncompleteRow = errors.New("row has no title or url")

// EncodeRow 按列顺序序列化一条记录
func EncodeRow(rec model.ClassifiedRecord) []string {
	row := make([]string, numColumns)
	row[colDate] = rec.Date
	row[colTitle] = rec.Title
	row[colSource] = rec.Source
	row[colCategory] = string(rec.Category)
	row[colCompanies] = JoinList(rec.CompaniesMentioned)
	row[colFunding] = rec.FundingAmount
	row[colSummary] = rec.Summary
	row[colURL] = rec.URL
	row[colEntities] = JoinList(rec.KeyEntities)
	row[colAddedAt] = rec.AddedAt.UTC().Format(time.RFC3339)
	return row
}

// DecodeRow 反序列化一行；缺失的尾部单元格视为空
func DecodeRow(row []string) (model.ClassifiedRecord, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := model.ClassifiedRecord{
		Date:               cell(colDate),
		Title:              cell(colTitle),
		Source:             cell(colSource),
		Category:           model.Category(cell(colCategory)),
		CompaniesMentioned: SplitList(cell(colCompanies)),
		FundingAmount:      cell(colFunding),
		Summary:            cell(colSummary),
		URL:                cell(colURL),
		KeyEntities:        SplitList(cell(colEntities)),
	}
	if rec.Title == "" || rec.URL == "" {
		return rec, errIncompleteRow
	}

	if v := cell(colAddedAt); v != "" {
		for _, layout := range addedAtLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				rec.AddedAt = t
				break
			}
		}
	}
	return rec, nil
}

// JoinList 多值字段写入单个单元格
func JoinList(items []string) string {
	return strings.Join(model.UniqueStrings(items), listSep)
}

// SplitList 按逗号拆分单元格
func SplitList(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	return model.UniqueStrings(strings.Split(cell, ","))
}
