package excel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nurpe/brokerage/internal/model"
)

const (
	summarySheet  = "خلاصه"
	registerSheet = "قراردادها"
)

var registerHeaders = []string{
	"شماره قرارداد",
	"نوع قرارداد",
	"تاریخ قرارداد",
	"وضعیت",
	"مشتری",
	"تلفن مشتری",
	"پروژه",
	"بلوک",
	"طبقه",
	"متراژ",
	"مبلغ",
	"کمیسیون",
	"روش پرداخت",
	"مدت (ماه)",
	"مشاور",
	"کاربران مرتبط",
}

// Generator writes the contracts register: a summary sheet, the full register
// and one sheet per status.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(contracts []model.ContractView, generatedAt time.Time) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	g.writeSummary(file, contracts, generatedAt)

	if _, err := file.NewSheet(registerSheet); err != nil {
		return nil, err
	}
	g.writeRegister(file, registerSheet, contracts)

	used := map[string]struct{}{summarySheet: {}, registerSheet: {}}
	for _, group := range groupByStatus(contracts) {
		sheet := buildSheetName(statusLabel(group.status), used)
		used[sheet] = struct{}{}
		if _, err := file.NewSheet(sheet); err != nil {
			return nil, err
		}
		g.writeRegister(file, sheet, group.contracts)
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, contracts []model.ContractView, generatedAt time.Time) {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(summarySheet, cell, value)
	}

	var totalAmount, totalCommission float64
	for _, c := range contracts {
		totalAmount += c.Amount
		totalCommission += c.Commission
	}

	set("A1", "تاریخ تهیه")
	set("B1", formatDateTime(generatedAt))
	set("A2", "تعداد قراردادها")
	set("B2", len(contracts))
	set("A3", "جمع مبالغ")
	set("B3", totalAmount)
	set("A4", "جمع کمیسیون")
	set("B4", totalCommission)

	tableRow := 6
	set(fmt.Sprintf("A%d", tableRow), "وضعیت")
	set(fmt.Sprintf("B%d", tableRow), "تعداد")
	set(fmt.Sprintf("C%d", tableRow), "جمع مبالغ")
	for i, group := range groupByStatus(contracts) {
		row := tableRow + 1 + i
		sum := 0.0
		for _, c := range group.contracts {
			sum += c.Amount
		}
		set(fmt.Sprintf("A%d", row), statusLabel(group.status))
		set(fmt.Sprintf("B%d", row), len(group.contracts))
		set(fmt.Sprintf("C%d", row), sum)
	}

	_ = file.SetSheetView(summarySheet, 0, &excelize.ViewOptions{RightToLeft: boolPtr(true)})
	_ = file.SetColWidth(summarySheet, "A", "A", 24)
	_ = file.SetColWidth(summarySheet, "B", "C", 20)
}

func (g *Generator) writeRegister(file *excelize.File, sheet string, contracts []model.ContractView) {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	for i, header := range registerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, c := range contracts {
		row := i + 2
		values := []interface{}{
			c.ContractNumber,
			c.ContractType,
			formatDate(c.ContractDate),
			statusLabel(c.Status),
			c.CustomerName,
			c.CustomerPhone,
			c.EstateProject,
			c.EstateBlock,
			c.EstateFloor,
			c.EstateArea,
			c.Amount,
			c.Commission,
			c.PaymentMethod,
			formatMonths(c.DurationMonths),
			c.AgentName,
			formatUsers(c.AssociatedUsers),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			set(cell, value)
		}
	}

	_ = file.SetSheetView(sheet, 0, &excelize.ViewOptions{RightToLeft: boolPtr(true)})
	_ = file.SetColWidth(sheet, "A", "A", 26)
	_ = file.SetColWidth(sheet, "B", "O", 16)
	_ = file.SetColWidth(sheet, "P", "P", 40)
}

type statusGroup struct {
	status    model.ContractStatus
	contracts []model.ContractView
}

func groupByStatus(contracts []model.ContractView) []statusGroup {
	index := map[model.ContractStatus]int{}
	var groups []statusGroup
	for _, c := range contracts {
		pos, ok := index[c.Status]
		if !ok {
			pos = len(groups)
			index[c.Status] = pos
			groups = append(groups, statusGroup{status: c.Status})
		}
		groups[pos].contracts = append(groups[pos].contracts, c)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].status < groups[j].status })
	return groups
}

func statusLabel(status model.ContractStatus) string {
	switch status {
	case model.ContractStatusActive:
		return "فعال"
	case model.ContractStatusExpired:
		return "منقضی"
	case model.ContractStatusCancelled:
		return "لغو شده"
	case model.ContractStatusCompleted:
		return "تکمیل شده"
	default:
		return string(status)
	}
}

func buildSheetName(name string, used map[string]struct{}) string {
	base := sanitizeSheetName(name)
	if runes := []rune(base); len(runes) > 31 {
		base = string(runes[:31])
	}

	candidate := base
	for counter := 2; ; counter++ {
		if _, exists := used[candidate]; !exists {
			return candidate
		}
		suffix := fmt.Sprintf("-%d", counter)
		trimmed := []rune(base)
		if len(trimmed)+len(suffix) > 31 {
			trimmed = trimmed[:31-len(suffix)]
		}
		candidate = string(trimmed) + suffix
	}
}

func sanitizeSheetName(value string) string {
	replacer := strings.NewReplacer(
		"[", "-",
		"]", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"/", "-",
		"\\", "-",
	)
	value = strings.TrimSpace(replacer.Replace(value))
	if value == "" {
		return "بدون وضعیت"
	}
	return value
}

func formatUsers(users []model.AssociatedUser) string {
	parts := make([]string, 0, len(users))
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = fmt.Sprintf("#%d", u.UserID)
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, u.Role))
	}
	return strings.Join(parts, "، ")
}

func formatMonths(value *int) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%d", *value)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func boolPtr(v bool) *bool {
	return &v
}
