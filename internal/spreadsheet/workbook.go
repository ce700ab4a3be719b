package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

const (
	colTicketID = iota
	colRowVersion
	colSubject
	colSender
	colCreated
	colDue
	colOverdue
	colStatus
	colPriority
	colResponsible
	colComment
	columnCount
)

const timeLayout = "2006-01-02 15:04"

var headers = [columnCount]string{
	"ticket_id", "row_version", "Subject", "Sender", "Received", "SLA due",
	"Overdue", "Status", "Priority", "Responsible", "Comment",
}

// headerAliases maps lower-cased header text to a column. Russian headers of
// the legacy workbook are accepted on read.
var headerAliases = map[string]int{
	"ticket_id":     colTicketID,
	"id":            colTicketID,
	"row_version":   colRowVersion,
	"subject":       colSubject,
	"тема":          colSubject,
	"sender":        colSender,
	"отправитель":   colSender,
	"received":      colCreated,
	"получено":      colCreated,
	"sla due":       colDue,
	"sla дедлайн":   colDue,
	"overdue":       colOverdue,
	"просрочка":     colOverdue,
	"status":        colStatus,
	"статус":        colStatus,
	"priority":      colPriority,
	"приоритет":     colPriority,
	"responsible":   colResponsible,
	"owner":         colResponsible,
	"ответственный": colResponsible,
	"comment":       colComment,
	"комментарий":   colComment,
}

var columnWidths = [columnCount]float64{10, 11, 48, 28, 17, 17, 9, 14, 10, 28, 48}

// Config locates the workbook.
type Config struct {
	Path     string
	Password string
	Sheet    string
	Location *time.Location
}

// SaveResult reports where a snapshot landed. Pending is set when the
// primary file was locked and the rows went to the fallback file.
type SaveResult struct {
	Path    string
	Pending bool
	Rows    int
}

// Workbook is the password-protected spreadsheet mirror of the ticket store.
type Workbook struct {
	cfg    Config
	logger *zap.Logger
}

// NewWorkbook builds a workbook adapter.
func NewWorkbook(cfg Config, logger *zap.Logger) *Workbook {
	if cfg.Sheet == "" {
		cfg.Sheet = "Tickets"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Workbook{cfg: cfg, logger: logger}
}

// Path returns the primary workbook path.
func (w *Workbook) Path() string {
	return w.cfg.Path
}

// PendingPath is the fallback used while the primary file is locked.
func (w *Workbook) PendingPath() string {
	ext := filepath.Ext(w.cfg.Path)
	return strings.TrimSuffix(w.cfg.Path, ext) + "_pending" + ext
}

// Load reads the ticket sheet. A missing workbook yields no rows. The
// pending file is never read.
func (w *Workbook) Load(ctx context.Context) ([]domain.SnapshotRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(w.cfg.Path, excelize.Options{Password: w.cfg.Password})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open workbook %s: %w", w.cfg.Path, err)
	}
	defer f.Close()

	sheet := w.cfg.Sheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index := make(map[int]int, len(rows[0]))
	for i, h := range rows[0] {
		if col, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			index[col] = i
		}
	}
	if _, ok := index[colTicketID]; !ok {
		return nil, fmt.Errorf("sheet %s: ticket_id column not found", sheet)
	}

	out := make([]domain.SnapshotRow, 0, len(rows)-1)
	for n, raw := range rows[1:] {
		cell := func(col int) string {
			i, ok := index[col]
			if !ok || i >= len(raw) {
				return ""
			}
			return strings.TrimSpace(raw[i])
		}
		idText := cell(colTicketID)
		if idText == "" {
			continue
		}
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			w.logger.Warn("skipping row with bad ticket id", zap.Int("row", n+2), zap.String("value", idText))
			continue
		}
		version, _ := strconv.ParseInt(cell(colRowVersion), 10, 64)
		out = append(out, domain.SnapshotRow{
			TicketID:    id,
			RowVersion:  version,
			Status:      cell(colStatus),
			Responsible: cell(colResponsible),
			Comment:     cell(colComment),
			Priority:    cell(colPriority),
			Subject:     cell(colSubject),
			Sender:      cell(colSender),
		})
	}
	return out, nil
}

// Save writes rows to a temp file and swaps it into place. When the
// primary file is held open by a spreadsheet client the snapshot lands in
// PendingPath instead.
func (w *Workbook) Save(ctx context.Context, rows []domain.SnapshotRow) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	dir := filepath.Dir(w.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("create workbook dir: %w", err)
	}

	f, err := w.render(rows)
	if err != nil {
		return SaveResult{}, err
	}
	defer f.Close()

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp.xlsx", filepath.Base(w.cfg.Path), time.Now().UnixNano()))
	if err := f.SaveAs(tmp, excelize.Options{Password: w.cfg.Password}); err != nil {
		return SaveResult{}, fmt.Errorf("write workbook: %w", err)
	}
	defer os.Remove(tmp)

	result := SaveResult{Path: w.cfg.Path, Rows: len(rows)}
	if !w.locked() {
		err = os.Rename(tmp, w.cfg.Path)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, fs.ErrPermission) {
			return SaveResult{}, fmt.Errorf("replace workbook: %w", err)
		}
	}

	result.Path = w.PendingPath()
	result.Pending = true
	if err := os.Rename(tmp, result.Path); err != nil {
		return SaveResult{}, fmt.Errorf("workbook locked and pending save failed: %w", err)
	}
	w.logger.Warn("workbook locked, snapshot saved to pending file",
		zap.String("path", w.cfg.Path),
		zap.String("pending", result.Path),
	)
	return result, nil
}

// locked reports whether a spreadsheet client holds the primary file, as
// signalled by its "~$" owner file.
func (w *Workbook) locked() bool {
	owner := filepath.Join(filepath.Dir(w.cfg.Path), "~$"+filepath.Base(w.cfg.Path))
	_, err := os.Stat(owner)
	return err == nil
}

func (w *Workbook) render(rows []domain.SnapshotRow) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := w.cfg.Sheet
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, columnCount)
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := w.rowValues(row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row.TicketID, err)
		}
	}
	if err := w.format(f, sheet, len(rows)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (w *Workbook) rowValues(row domain.SnapshotRow) []interface{} {
	values := make([]interface{}, columnCount)
	values[colTicketID] = row.TicketID
	values[colRowVersion] = row.RowVersion
	values[colSubject] = row.Subject
	values[colSender] = row.Sender
	values[colCreated] = w.formatTime(row.CreatedAt)
	values[colDue] = w.formatTime(row.DueAt)
	if row.Overdue {
		values[colOverdue] = "yes"
	} else {
		values[colOverdue] = ""
	}
	values[colStatus] = row.Status
	values[colPriority] = row.Priority
	values[colResponsible] = row.Responsible
	values[colComment] = row.Comment
	return values
}

func (w *Workbook) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(w.cfg.Location).Format(timeLayout)
}

// format sets widths and drop-downs, then protects the sheet leaving only
// the editable columns unlocked.
func (w *Workbook) format(f *excelize.File, sheet string, rowCount int) error {
	for i, width := range columnWidths {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return err
		}
	}

	last := rowCount + 1
	if last < 2 {
		last = 2
	}
	statusCol, _ := excelize.ColumnNumberToName(colStatus + 1)
	priorityCol, _ := excelize.ColumnNumberToName(colPriority + 1)

	statuses := make([]string, 0, 5)
	for _, s := range []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed} {
		statuses = append(statuses, domain.StatusLabel(s))
	}
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", statusCol, statusCol, last)
	if err := dv.SetDropList(statuses); err != nil {
		return err
	}
	if err := f.AddDataValidation(sheet, dv); err != nil {
		return err
	}
	priorities := make([]string, len(domain.Priorities))
	for i, p := range domain.Priorities {
		priorities[i] = string(p)
	}
	dv = excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", priorityCol, priorityCol, last)
	if err := dv.SetDropList(priorities); err != nil {
		return err
	}
	if err := f.AddDataValidation(sheet, dv); err != nil {
		return err
	}

	if w.cfg.Password == "" {
		return nil
	}
	unlocked, err := f.NewStyle(&excelize.Style{Protection: &excelize.Protection{Locked: false}})
	if err != nil {
		return err
	}
	first, _ := excelize.ColumnNumberToName(colStatus + 1)
	end, _ := excelize.ColumnNumberToName(colComment + 1)
	if err := f.SetColStyle(sheet, first+":"+end, unlocked); err != nil {
		return err
	}
	return f.ProtectSheet(sheet, &excelize.SheetProtectionOptions{
		Password:            w.cfg.Password,
		SelectLockedCells:   true,
		SelectUnlockedCells: true,
		FormatColumns:       true,
		AutoFilter:          true,
	})
}

// FromTicket projects a ticket into its spreadsheet row.
func FromTicket(t domain.Ticket) domain.SnapshotRow {
	created := t.CreatedAt
	due := t.DueAt
	return domain.SnapshotRow{
		TicketID:    t.ID,
		RowVersion:  t.RowVersion,
		Status:      domain.StatusLabel(t.Status),
		Responsible: t.Owner(),
		Comment:     t.Comment,
		Priority:    string(t.Priority),
		Subject:     t.Subject,
		Sender:      t.SenderEmail,
		CreatedAt:   &created,
		DueAt:       &due,
		Overdue:     t.Overdue(),
	}
}
