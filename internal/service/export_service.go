package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nurpe/brokerage/internal/model"
)

type RegisterGenerator interface {
	Generate(contracts []model.ContractView, generatedAt time.Time) ([]byte, error)
}

type SummaryGenerator interface {
	Generate(contract model.ContractView) ([]byte, error)
}

type ExportResult struct {
	FileName string
	Content  []byte
}

// ExportService renders documents from what ContractService lets the caller
// see.
type ExportService struct {
	contracts *ContractService
	register  RegisterGenerator
	summary   SummaryGenerator
	now       func() time.Time
}

func NewExportService(contracts *ContractService, register RegisterGenerator, summary SummaryGenerator) *ExportService {
	return &ExportService{
		contracts: contracts,
		register:  register,
		summary:   summary,
		now:       time.Now,
	}
}

func (s *ExportService) Register(ctx context.Context, principal model.Principal, status string) (*ExportResult, error) {
	views, err := s.contracts.List(ctx, principal, status)
	if err != nil {
		return nil, err
	}
	now := s.now()
	content, err := s.register.Generate(views, now)
	if err != nil {
		return nil, fmt.Errorf("generate contracts register: %w", err)
	}
	return &ExportResult{
		FileName: fmt.Sprintf("contracts-%s.xlsx", now.Format("20060102-150405")),
		Content:  content,
	}, nil
}

func (s *ExportService) Summary(ctx context.Context, principal model.Principal, id uint) (*ExportResult, error) {
	view, err := s.contracts.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	content, err := s.summary.Generate(*view)
	if err != nil {
		return nil, fmt.Errorf("generate contract summary: %w", err)
	}
	return &ExportResult{
		FileName: fmt.Sprintf("%s.pdf", sanitizeFileName(view.ContractNumber)),
		Content:  content,
	}, nil
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result = append(result, r)
		case r == '-', r == '_':
			result = append(result, r)
		default:
			result = append(result, '-')
		}
	}
	if len(result) == 0 {
		return "contract"
	}
	return string(result)
}
