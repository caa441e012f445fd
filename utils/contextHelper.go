package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySyncRunId     = appctx.ContextKeySyncRunId
	ContextKeyDomain        = appctx.ContextKeyDomain
	ContextKeySubject       = appctx.ContextKeySubject
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetSyncRunIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeySyncRunId)
}

func SetSyncRunIdInContext(ctx context.Context, runId uint) context.Context {
	return appctx.Set(ctx, ContextKeySyncRunId, runId)
}

func GetDomainFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyDomain)
}

func SetDomainInContext(ctx context.Context, domain string) context.Context {
	return appctx.Set(ctx, ContextKeyDomain, domain)
}

func GetSubjectFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySubject)
}

func SetSubjectInContext(ctx context.Context, subject string) context.Context {
	return appctx.Set(ctx, ContextKeySubject, subject)
}
