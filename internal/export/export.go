// Package export renders the ledger as the S1a-HKD paper form for Word and Excel,
// and as a JSON backup.
package export

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Format is one of the export flavours.
type Format string

const (
	FormatWord  Format = "doc"
	FormatExcel Format = "xls"
	FormatJSON  Format = "json"
)

// ParseFormat validates a format name from a request.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWord, FormatExcel, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

const (
	ContentTypeWord  = "application/msword"
	ContentTypeExcel = "application/vnd.ms-excel"
	ContentTypeJSON  = "application/json"

	defaultBaseName = "So-Doanh-Thu"
	bom             = "\ufeff"
)

// Artifact is a rendered file ready to be downloaded or uploaded.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var vnPrinter = message.NewPrinter(language.Vietnamese)

var templates = template.Must(template.New("export").Funcs(template.FuncMap{
	"money": FormatMoney,
}).ParseFS(templateFS, "templates/*.html.tmpl"))

type view struct {
	domain.State
	Total            int64
	Day, Month, Year int
}

// Render produces the artifact of format f.
func Render(f Format, state domain.State, now time.Time) (Artifact, error) {
	switch f {
	case FormatWord:
		return WordDocument(state, now)
	case FormatExcel:
		return ExcelDocument(state, now)
	case FormatJSON:
		return JSONBackup(state, now)
	}
	return Artifact{}, fmt.Errorf("unknown export format %q", f)
}

// WordDocument renders the form as Word-compatible HTML.
func WordDocument(state domain.State, now time.Time) (Artifact, error) {
	data, err := render("word.html.tmpl", state, now)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		FileName:    "S1a-HKD-" + baseName(state.Info.Name) + ".doc",
		ContentType: ContentTypeWord,
		Data:        data,
	}, nil
}

// ExcelDocument renders the form as an Excel-compatible HTML table.
func ExcelDocument(state domain.State, now time.Time) (Artifact, error) {
	data, err := render("excel.html.tmpl", state, now)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		FileName:    "S1a-HKD-" + baseName(state.Info.Name) + ".xls",
		ContentType: ContentTypeExcel,
		Data:        data,
	}, nil
}

// JSONBackup serializes the ledger in the format DecodeImport reads back.
func JSONBackup(state domain.State, now time.Time) (Artifact, error) {
	data, err := json.MarshalIndent(state.Clone(), "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("JSONBackup: %w", err)
	}
	return Artifact{
		FileName:    "S1a-HKD-Backup-" + now.Format("2006-01-02") + ".json",
		ContentType: ContentTypeJSON,
		Data:        data,
	}, nil
}

func render(name string, state domain.State, now time.Time) ([]byte, error) {
	v := view{
		State: state.Clone(),
		Total: state.Total(),
		Day:   now.Day(),
		Month: int(now.Month()),
		Year:  now.Year(),
	}

	var buf bytes.Buffer
	buf.WriteString(bom)
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// FormatMoney groups thousands the Vietnamese way: 1234567 becomes "1.234.567".
func FormatMoney(amount int64) string {
	return vnPrinter.Sprintf("%d", amount)
}

func baseName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultBaseName
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '-'
		}
		return r
	}, name)
}

// ShareFileName makes an ASCII file name for sending the Excel form through apps
// that mangle Vietnamese names: "Nguyễn Văn A" becomes "Nguyen_Van_A_S1a.xls".
func ShareFileName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, strings.TrimSpace(name))
	if err != nil {
		plain = name
	}

	var b strings.Builder
	for _, r := range plain {
		switch {
		case r == 'đ':
			b.WriteRune('d')
		case r == 'Đ':
			b.WriteRune('D')
		case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" {
		safe = "S1a"
	}
	return safe + "_S1a.xls"
}
