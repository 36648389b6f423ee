package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func vendorCallHandlers() repository.ModelHandlers[*vendorCallRecord] {
	return repository.ModelHandlers[*vendorCallRecord]{
		NewRecord: func() *vendorCallRecord {
			return &vendorCallRecord{}
		},
		GetID: func(record *vendorCallRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *vendorCallRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *vendorCallRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func workflowStepHandlers() repository.ModelHandlers[*workflowStepRecord] {
	return repository.ModelHandlers[*workflowStepRecord]{
		NewRecord: func() *workflowStepRecord {
			return &workflowStepRecord{}
		},
		GetID: func(record *workflowStepRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *workflowStepRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *workflowStepRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func outboxHandlers() repository.ModelHandlers[*outboxRecord] {
	return repository.ModelHandlers[*outboxRecord]{
		NewRecord: func() *outboxRecord {
			return &outboxRecord{}
		},
		GetID: func(record *outboxRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *outboxRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *outboxRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func vendorCredentialHandlers() repository.ModelHandlers[*vendorCredentialRecord] {
	return repository.ModelHandlers[*vendorCredentialRecord]{
		NewRecord: func() *vendorCredentialRecord {
			return &vendorCredentialRecord{}
		},
		GetID: func(record *vendorCredentialRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *vendorCredentialRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *vendorCredentialRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
