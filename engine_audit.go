package arkana

import (
	"context"

	"github.com/avilainc/arkana/internal/flows"
	internalmetrics "github.com/avilainc/arkana/internal/metrics"
)

const (
	auditEventRegister             = "register"
	auditEventLogin                = "login"
	auditEventEmailVerifyConfirm   = "email_verification_confirm"
	auditEventEmailVerifyRequest   = "email_verification_request"
	auditEventRefresh              = "refresh"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventStoreUnavailable     = "store_unavailable"
)

const noMetric = internalmetrics.ID(0xffff)

// operation ties a public method to its audit event and counters.
type operation struct {
	name    string
	event   string
	success internalmetrics.ID
	failure internalmetrics.ID
}

var (
	opRegister      = operation{"register", auditEventRegister, internalmetrics.RegisterSuccess, internalmetrics.RegisterFailure}
	opLogin         = operation{"login", auditEventLogin, internalmetrics.LoginSuccess, internalmetrics.LoginFailure}
	opVerifyEmail   = operation{"verify_email", auditEventEmailVerifyConfirm, internalmetrics.EmailVerificationSuccess, internalmetrics.EmailVerificationFailure}
	opVerifyRequest = operation{"request_email_verification", auditEventEmailVerifyRequest, internalmetrics.EmailVerificationRequest, noMetric}
	opRefresh       = operation{"refresh", auditEventRefresh, internalmetrics.RefreshSuccess, internalmetrics.RefreshFailure}
	opResetRequest  = operation{"request_password_reset", auditEventPasswordResetRequest, internalmetrics.PasswordResetRequest, noMetric}
	opResetConfirm  = operation{"confirm_password_reset", auditEventPasswordResetConfirm, internalmetrics.PasswordResetConfirmSuccess, internalmetrics.PasswordResetConfirmFailure}
	opLogout        = operation{"logout", auditEventLogout, internalmetrics.Logout, noMetric}
	opLogoutAll     = operation{"logout_all", auditEventLogoutAll, internalmetrics.LogoutAll, noMetric}
)

func (e *Engine) metricInc(id internalmetrics.ID) {
	if e == nil || id == noMetric {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) record(op operation, o flows.Outcome) {
	if o.OK() {
		e.metricInc(op.success)
		return
	}
	e.metricInc(op.failure)

	switch o.Failure {
	case flows.FailureRateLimited:
		e.metricInc(internalmetrics.RateLimitHit)
		if op == opLogin {
			e.metricInc(internalmetrics.LoginRateLimited)
		}
	case flows.FailureStoreUnavailable:
		e.metricInc(internalmetrics.StoreUnavailable)
	case flows.FailureReuseDetected:
		e.metricInc(internalmetrics.RefreshReuseDetected)
		e.metricInc(internalmetrics.FamilyRevoked)
	case flows.FailureDuplicateEmail:
		e.metricInc(internalmetrics.RegisterDuplicate)
	}
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, o flows.Outcome, err error, meta map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	if o.Failure == flows.FailureRateLimited {
		eventType = auditEventRateLimitTriggered
		if meta == nil {
			meta = map[string]string{}
		}
		meta["action"] = string(o.Action)
		meta["retry_after"] = o.RetryAfter.String()
	}
	if o.Failure == flows.FailureStoreUnavailable {
		if meta == nil {
			meta = map[string]string{}
		}
		meta["op_event"] = eventType
		eventType = auditEventStoreUnavailable
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   o.Subject,
		TenantID:  tenantIDFromContext(ctx),
		FamilyID:  o.FamilyID,
		TokenID:   o.TokenID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     ErrorCode(err),
		Metadata:  meta,
	}

	e.audit.Emit(ctx, event)
}
