package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

// Vendor kinds as sent in x-haizel-vendor.
const (
	VendorCredit           = "credit"
	VendorIncomeEmployment = "income_employment"
	VendorAssets           = "assets"
	VendorAMC              = "amc"
	VendorFlood            = "flood"
	VendorMI               = "mi"
	VendorAUS              = "aus"
	VendorTitle            = "title"
	VendorESign            = "esign"
)

// Completion channels; the workflow waits on "<event>.<channel>".
const (
	ChannelCredit    = "credit"
	ChannelIncome    = "income"
	ChannelAssets    = "assets"
	ChannelAppraisal = "appraisal"
	ChannelFlood     = "flood"
	ChannelMI        = "mi"
	ChannelTitle     = "title"
	ChannelESign     = "esign"
)

func DefaultNormalizers() map[string]Normalizer {
	return map[string]Normalizer{
		VendorCredit:           NormalizeCredit,
		VendorIncomeEmployment: NormalizeIncomeEmployment,
		VendorAssets:           NormalizeAssets,
		VendorAMC:              NormalizeAppraisal,
		VendorFlood:            NormalizeFlood,
		VendorMI:               NormalizeMI,
		VendorAUS:              NormalizeAUS,
		VendorTitle:            NormalizeTitle,
		VendorESign:            NormalizeESign,
	}
}

type callbackEnvelope struct {
	LoanID        string `json:"loanId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type CreditCallback struct {
	callbackEnvelope
	VendorCallID string `json:"vendorCallId"`
	Summary      struct {
		FICO       int `json:"fico"`
		Inquiries  int `json:"inquiries"`
		Tradelines int `json:"tradelines"`
	} `json:"summary"`
	Documents []struct {
		Bureau   string `json:"bureau"`
		URL      string `json:"url"`
		Checksum string `json:"checksum,omitempty"`
	} `json:"documents"`
}

func NormalizeCredit(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body CreditCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	documents := make([]Document, 0, len(body.Documents))
	for _, doc := range body.Documents {
		bureau := strings.ToUpper(strings.TrimSpace(doc.Bureau))
		documents = append(documents, Document{
			Code:     "TRI_MERGE_" + bureau,
			URL:      doc.URL,
			Checksum: doc.Checksum,
			Title:    bureau + " credit file",
		})
	}
	summary := map[string]any{
		"fico":       body.Summary.FICO,
		"inquiries":  body.Summary.Inquiries,
		"tradelines": body.Summary.Tradelines,
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepCredit,
			Status:   core.StepStatusComplete,
			Metadata: map[string]any{"vendorCallId": body.VendorCallID, "fico": body.Summary.FICO},
		},
		Documents: documents,
		Events: []core.Event{completionEvent(core.EventVerificationCompleted, ChannelCredit, core.StepStatusComplete, map[string]any{
			"vendor":       VendorCredit,
			"vendorCallId": body.VendorCallID,
			"summary":      summary,
		})},
	}, nil
}

type IncomeEmploymentCallback struct {
	callbackEnvelope
	VendorCallID     string `json:"vendorCallId"`
	EmploymentStatus string `json:"employmentStatus"`
	IncomeStreams    []struct {
		EmployerName      string `json:"employerName"`
		AnnualIncomeCents int64  `json:"annualIncomeCents"`
	} `json:"incomeStreams"`
}

func NormalizeIncomeEmployment(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body IncomeEmploymentCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	status := core.StepStatusInProgress
	reason := ""
	switch body.EmploymentStatus {
	case "verified":
		status = core.StepStatusComplete
	case "unable_to_verify":
		status = core.StepStatusFailed
		reason = "Vendor unable to verify employment automatically"
	}
	streams := make([]map[string]any, 0, len(body.IncomeStreams))
	for _, stream := range body.IncomeStreams {
		streams = append(streams, map[string]any{
			"employerName":      stream.EmployerName,
			"annualIncomeCents": stream.AnnualIncomeCents,
		})
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepIncomeEmployment,
			Status:   status,
			Reason:   reason,
			Metadata: map[string]any{"vendorCallId": body.VendorCallID, "employmentStatus": body.EmploymentStatus},
		},
		Events: []core.Event{completionEvent(core.EventVerificationCompleted, ChannelIncome, status, map[string]any{
			"vendor":           VendorIncomeEmployment,
			"vendorCallId":     body.VendorCallID,
			"employmentStatus": body.EmploymentStatus,
			"incomeStreams":    len(streams),
			"reason":           reason,
		})},
	}, nil
}

type AssetsCallback struct {
	callbackEnvelope
	VendorCallID string `json:"vendorCallId"`
	Accounts     []struct {
		Institution         string `json:"institution"`
		AccountType         string `json:"accountType"`
		CurrentBalanceCents int64  `json:"currentBalanceCents"`
		Statements          []struct {
			URL      string `json:"url"`
			Checksum string `json:"checksum,omitempty"`
			Month    string `json:"month,omitempty"`
		} `json:"statements"`
	} `json:"accounts"`
}

func NormalizeAssets(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body AssetsCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	documents := []Document{}
	for _, account := range body.Accounts {
		for index, statement := range account.Statements {
			documents = append(documents, Document{
				Code:     "ASSET_STATEMENT",
				URL:      statement.URL,
				Checksum: statement.Checksum,
				Title:    fmt.Sprintf("%s %s statement", account.Institution, account.AccountType),
				Version:  index + 1,
			})
		}
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepAssets,
			Status:   core.StepStatusComplete,
			Metadata: map[string]any{"vendorCallId": body.VendorCallID, "accountCount": len(body.Accounts)},
		},
		Documents: documents,
		Events: []core.Event{completionEvent(core.EventVerificationCompleted, ChannelAssets, core.StepStatusComplete, map[string]any{
			"vendor":       VendorAssets,
			"vendorCallId": body.VendorCallID,
			"accountCount": len(body.Accounts),
		})},
	}, nil
}

type AppraisalCallback struct {
	callbackEnvelope
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	ETA       string `json:"eta,omitempty"`
	Documents []struct {
		Code     string `json:"code"`
		URL      string `json:"url"`
		Checksum string `json:"checksum,omitempty"`
		Version  int    `json:"version,omitempty"`
		Title    string `json:"title,omitempty"`
	} `json:"documents,omitempty"`
}

func NormalizeAppraisal(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body AppraisalCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	status := core.StepStatusInProgress
	if body.Status == "delivered" {
		status = core.StepStatusComplete
	}
	documents := make([]Document, 0, len(body.Documents))
	for _, doc := range body.Documents {
		documents = append(documents, Document{
			Code:     firstNonEmpty(doc.Code, "APPRAISAL_REPORT"),
			URL:      doc.URL,
			Checksum: doc.Checksum,
			Version:  doc.Version,
			Title:    firstNonEmpty(doc.Title, "Appraisal Report"),
		})
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepAppraisal,
			Status:   status,
			Metadata: map[string]any{"orderId": body.OrderID, "eta": body.ETA},
		},
		Documents: documents,
		Events: []core.Event{completionEvent(core.EventOrderStatusChanged, ChannelAppraisal, status, map[string]any{
			"vendor":  VendorAMC,
			"orderId": body.OrderID,
			"status":  body.Status,
			"eta":     body.ETA,
		})},
	}, nil
}

type FloodCallback struct {
	callbackEnvelope
	Determination string `json:"determination"`
	ReportURL     string `json:"reportUrl"`
	Checksum      string `json:"checksum,omitempty"`
}

func NormalizeFlood(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body FloodCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	documents := []Document{}
	if strings.TrimSpace(body.ReportURL) != "" {
		documents = append(documents, Document{
			Code:     "FLOOD_DETERMINATION",
			URL:      body.ReportURL,
			Checksum: body.Checksum,
			Title:    "Flood Determination",
			Version:  1,
		})
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepFlood,
			Status:   core.StepStatusComplete,
			Metadata: map[string]any{"determination": body.Determination},
		},
		Documents: documents,
		Events: []core.Event{completionEvent(core.EventOrderStatusChanged, ChannelFlood, core.StepStatusComplete, map[string]any{
			"vendor":        VendorFlood,
			"status":        "delivered",
			"determination": body.Determination,
		})},
	}, nil
}

type MICallback struct {
	callbackEnvelope
	QuoteID      string `json:"quoteId"`
	PremiumCents int64  `json:"premiumCents"`
	Status       string `json:"status"`
}

func NormalizeMI(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body MICallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	status := core.StepStatusInProgress
	reason := ""
	switch body.Status {
	case "issued":
		status = core.StepStatusComplete
	case "declined":
		status = core.StepStatusFailed
		reason = "Vendor declined MI quote"
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepMI,
			Status:   status,
			Reason:   reason,
			Metadata: map[string]any{"quoteId": body.QuoteID, "premiumCents": body.PremiumCents},
		},
		Events: []core.Event{completionEvent(core.EventOrderStatusChanged, ChannelMI, status, map[string]any{
			"vendor":  VendorMI,
			"quoteId": body.QuoteID,
			"status":  body.Status,
			"reason":  reason,
		})},
	}, nil
}

type AUSCallback struct {
	callbackEnvelope
	SubmissionID string `json:"submissionId"`
	Decision     string `json:"decision"`
	FindingsURL  string `json:"findingsUrl,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	Conditions   []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"conditions"`
}

const (
	AUSApprovedEligible = "APPROVED_ELIGIBLE"
	AUSReferWithCaution = "REFER_WITH_CAUTION"
	AUSOutOfScope       = "OUT_OF_SCOPE"
)

// AUSStepStatus maps an AUS decision to the AUS step status. Anything other
// than an eligible approval needs an underwriter, so it blocks.
func AUSStepStatus(decision string) (core.StepStatus, string) {
	switch strings.ToUpper(strings.TrimSpace(decision)) {
	case AUSApprovedEligible:
		return core.StepStatusComplete, ""
	case AUSReferWithCaution:
		return core.StepStatusBlocked, "AUS returned cautionary findings"
	case AUSOutOfScope:
		return core.StepStatusBlocked, "AUS decision out of scope; manual underwriting required"
	case "":
		return core.StepStatusInProgress, ""
	default:
		return core.StepStatusBlocked, "unrecognized AUS decision " + decision
	}
}

func NormalizeAUS(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body AUSCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	status, reason := AUSStepStatus(body.Decision)
	conditions := make([]map[string]any, 0, len(body.Conditions))
	for _, condition := range body.Conditions {
		conditions = append(conditions, map[string]any{
			"code":        condition.Code,
			"description": condition.Description,
			"severity":    condition.Severity,
		})
	}
	documents := []Document{}
	if strings.TrimSpace(body.FindingsURL) != "" {
		documents = append(documents, Document{
			Code:     "AUS_FINDINGS",
			URL:      body.FindingsURL,
			Checksum: body.Checksum,
			Title:    "AUS Findings",
		})
	}
	events := []core.Event{{
		Name: core.EventAUSFindingsAvailable,
		Payload: map[string]any{
			"vendor":          VendorAUS,
			"submissionId":    body.SubmissionID,
			"decision":        body.Decision,
			"conditions":      conditions,
			PayloadStepStatus: string(status),
		},
	}}
	if len(conditions) > 0 {
		events = append(events, core.Event{
			Name:    core.EventConditionsChanged,
			Payload: map[string]any{"source": VendorAUS, "conditions": conditions},
		})
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepAUS,
			Status:   status,
			Reason:   reason,
			Metadata: map[string]any{"submissionId": body.SubmissionID, "decision": body.Decision},
		},
		Documents: documents,
		Events:    events,
	}, nil
}

type TitleCallback struct {
	callbackEnvelope
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	CurativeTasks []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
	} `json:"curativeTasks"`
	Documents []struct {
		Code     string `json:"code"`
		URL      string `json:"url"`
		Checksum string `json:"checksum,omitempty"`
		Version  int    `json:"version,omitempty"`
	} `json:"documents,omitempty"`
}

func NormalizeTitle(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body TitleCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	status := core.StepStatusInProgress
	if body.Status == "clear" {
		status = core.StepStatusComplete
	}
	reason := ""
	if body.Status == "in_curative" {
		reason = "Curative tasks outstanding"
	}
	outstanding := 0
	for _, task := range body.CurativeTasks {
		if task.Status != "met" {
			outstanding++
		}
	}
	documents := make([]Document, 0, len(body.Documents))
	for _, doc := range body.Documents {
		documents = append(documents, Document{
			Code:     firstNonEmpty(doc.Code, "TITLE_COMMITMENT"),
			URL:      doc.URL,
			Checksum: doc.Checksum,
			Version:  doc.Version,
		})
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: core.StepTitle,
			Status:   status,
			Reason:   reason,
			Metadata: map[string]any{"orderId": body.OrderID, "outstandingTasks": outstanding},
		},
		Documents: documents,
		Events: []core.Event{completionEvent(core.EventOrderStatusChanged, ChannelTitle, status, map[string]any{
			"vendor":           VendorTitle,
			"orderId":          body.OrderID,
			"status":           body.Status,
			"outstandingTasks": outstanding,
		})},
	}, nil
}

type ESignCallback struct {
	callbackEnvelope
	EnvelopeID string `json:"envelopeId"`
	Status     string `json:"status"`
	// Purpose is "disclosures" (default) or "closing".
	Purpose            string `json:"purpose,omitempty"`
	CompletedDocuments []struct {
		Code     string `json:"code"`
		URL      string `json:"url"`
		Checksum string `json:"checksum,omitempty"`
	} `json:"completedDocuments,omitempty"`
}

func NormalizeESign(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
	var body ESignCallback
	if err := decodeCallback(webhook, &body); err != nil {
		return Normalized{}, err
	}
	step := core.StepDisclosures
	completion := core.EventDisclosuresCompleted
	title := "Executed Disclosure"
	if strings.EqualFold(strings.TrimSpace(body.Purpose), "closing") {
		step = core.StepClosing
		completion = core.EventLoanClosedPrep
		title = "Executed Closing Package"
	}
	status := core.StepStatusInProgress
	reason := ""
	switch body.Status {
	case "completed":
		status = core.StepStatusComplete
	case "declined":
		status = core.StepStatusFailed
		reason = "Signer declined the envelope"
	}
	documents := make([]Document, 0, len(body.CompletedDocuments))
	for _, doc := range body.CompletedDocuments {
		documents = append(documents, Document{Code: doc.Code, URL: doc.URL, Checksum: doc.Checksum, Title: title})
	}
	payload := map[string]any{
		"vendor":     VendorESign,
		"envelopeId": body.EnvelopeID,
		"status":     body.Status,
		"reason":     reason,
	}
	events := []core.Event{completionEvent(core.EventOrderStatusChanged, ChannelESign, status, payload)}
	if status.IsTerminal() || status == core.StepStatusFailed {
		events = append(events, completionEvent(completion, "", status, payload))
	}
	return Normalized{
		LoanID:        body.LoanID,
		CorrelationID: body.CorrelationID,
		Transition: &Transition{
			LoanID:   body.LoanID,
			StepCode: step,
			Status:   status,
			Reason:   reason,
			Metadata: map[string]any{"envelopeId": body.EnvelopeID, "status": body.Status},
		},
		Documents: documents,
		Events:    events,
	}, nil
}

func completionEvent(name string, channel string, status core.StepStatus, payload map[string]any) core.Event {
	out := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		out[key] = value
	}
	out[PayloadStepStatus] = string(status)
	return core.Event{Name: name, Channel: channel, Payload: out}
}

func decodeCallback(webhook VerifiedWebhook, target interface{ loanID() string }) error {
	if err := webhook.Decode(target); err != nil {
		return fmt.Errorf("webhooks: decode %s callback: %w", webhook.Vendor, err)
	}
	if strings.TrimSpace(target.loanID()) == "" {
		return fmt.Errorf("webhooks: %s callback is missing loanId", webhook.Vendor)
	}
	return nil
}

func (e callbackEnvelope) loanID() string {
	return e.LoanID
}

var _ WebhookVerifier = (*Verifier)(nil)
