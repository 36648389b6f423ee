package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/providers"
)

var ErrLoanNotFound = errors.New("pipeline: loan file not found")

// LoanFile carries the loan data the stage activities send to vendors.
type LoanFile struct {
	TenantID     string
	LoanID       string
	ConsentToken string
	Borrower     providers.Borrower
	CoBorrower   *providers.Borrower

	EmployerHint     string
	PayrollProvider  string
	InstitutionHints []string

	Appraisal providers.AppraisalOrderRequest
	// MI is nil when the loan needs no mortgage insurance; the step is
	// waived.
	MI    *providers.MortgageInsuranceQuoteRequest
	AUS   providers.AUSSubmitRequest
	Title providers.TitleOpenRequest

	DisclosureTemplate string
	ClosingTemplate    string
	Recipients         []providers.Recipient

	WaivedSteps []core.StepCode
}

// Waived returns the steps that start out waived.
func (f LoanFile) Waived() map[core.StepCode]bool {
	out := map[core.StepCode]bool{}
	for _, code := range f.WaivedSteps {
		out[code] = true
	}
	if f.MI == nil {
		out[core.StepMI] = true
	}
	return out
}

// LoanSource loads the loan file of a tenant's loan.
type LoanSource interface {
	LoanFile(ctx context.Context, tenantID string, loanID string) (LoanFile, error)
}

type MemoryLoanSource struct {
	mu    sync.RWMutex
	files map[string]LoanFile
}

func NewMemoryLoanSource(files ...LoanFile) *MemoryLoanSource {
	source := &MemoryLoanSource{files: map[string]LoanFile{}}
	for _, file := range files {
		source.Put(file)
	}
	return source
}

func (s *MemoryLoanSource) Put(file LoanFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[loanKey(file.TenantID, file.LoanID)] = file
}

func (s *MemoryLoanSource) LoanFile(_ context.Context, tenantID string, loanID string) (LoanFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.files[loanKey(tenantID, loanID)]
	if !ok {
		return LoanFile{}, ErrLoanNotFound
	}
	return file, nil
}

func loanKey(tenantID string, loanID string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(loanID)
}

// EnvelopeStore remembers the e-sign envelope generated for a loan and
// purpose until it is sent.
type EnvelopeStore interface {
	SaveEnvelope(ctx context.Context, tenantID string, loanID string, purpose string, envelopeID string) error
	Envelope(ctx context.Context, tenantID string, loanID string, purpose string) (string, bool, error)
}

type MemoryEnvelopeStore struct {
	mu        sync.Mutex
	envelopes map[string]string
}

func NewMemoryEnvelopeStore() *MemoryEnvelopeStore {
	return &MemoryEnvelopeStore{envelopes: map[string]string{}}
}

func (s *MemoryEnvelopeStore) SaveEnvelope(_ context.Context, tenantID string, loanID string, purpose string, envelopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes[loanKey(tenantID, loanID)+":"+purpose] = envelopeID
	return nil
}

func (s *MemoryEnvelopeStore) Envelope(_ context.Context, tenantID string, loanID string, purpose string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envelopeID, ok := s.envelopes[loanKey(tenantID, loanID)+":"+purpose]
	return envelopeID, ok, nil
}

var (
	_ LoanSource    = (*MemoryLoanSource)(nil)
	_ EnvelopeStore = (*MemoryEnvelopeStore)(nil)
)
