package handlers

import (
	"net/http"
	"strconv"
	"time"

	"fraudledger/internal/ledger"
	"fraudledger/internal/middleware"
	"fraudledger/internal/moderation"

	"github.com/rs/zerolog/log"
)

// ReportRequest is the JSON body of a fraud report submission.
type ReportRequest struct {
	Reporter              string  `json:"reporter" validate:"required"`
	AccountHash           string  `json:"accountHash" validate:"required"`
	MerchantHash          *string `json:"merchantHash"`
	DescriptionTokensHash string  `json:"descriptionTokensHash" validate:"required"`
	Description           string  `json:"description" validate:"required,max=4096"`
	AmountCents           *int64  `json:"amountCents" validate:"required,min=0"`
	CountryCode           *string `json:"countryCode" validate:"omitempty,len=2,alpha"`
	MCC                   *string `json:"mcc" validate:"omitempty,numeric,len=4"`
	ReportedAt            *int64  `json:"reportedAt" validate:"omitempty,min=0"`
}

func (req ReportRequest) toReport() ledger.FraudReport {
	r := ledger.FraudReport{
		Reporter:              req.Reporter,
		AccountHash:           req.AccountHash,
		MerchantHash:          emptyToNil(req.MerchantHash),
		DescriptionTokensHash: req.DescriptionTokensHash,
		Description:           req.Description,
		AmountCents:           *req.AmountCents,
		CountryCode:           emptyToNil(req.CountryCode),
		MCC:                   emptyToNil(req.MCC),
		ReportedAt:            req.ReportedAt,
	}
	return r
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// PendingView is the JSON form of a pending report.
type PendingView struct {
	ID         string             `json:"id"`
	ReceivedAt time.Time          `json:"receivedAt"`
	DedupeKey  string             `json:"dedupeKey"`
	Payload    ledger.FraudReport `json:"payload"`
}

func pendingView(p ledger.PendingEntry) PendingView {
	return PendingView{
		ID:         p.ID,
		ReceivedAt: p.ReceivedAt,
		DedupeKey:  string(p.DedupeKey),
		Payload:    p.Report,
	}
}

// HandleReport accepts a fraud report into the pending queue. A new report
// is 202; resubmitting one that is still pending is 200 with the same id.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	out, created, err := h.svc.Enqueue(r.Context(), req.toReport())
	if err != nil {
		writeError(w, err)
		return
	}

	log.Debug().
		Str("reportId", out.ID).
		Str("apiKey", middleware.APIKeyFromContext(r.Context())).
		Bool("created", created).
		Msg("handlers: report accepted")

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// HandlePendingCount returns the number of pending reports.
func (h *Handler) HandlePendingCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.svc.PendingCount()})
}

// HandlePendingNext returns the oldest pending report, or 204 when the
// queue is empty.
func (h *Handler) HandlePendingNext(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeView(w, r, moderation.PermissionViewPending) {
		return
	}
	head, ok := h.svc.PeekHead()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, pendingView(head))
}

// HandlePendingList returns every pending report, oldest first.
func (h *Handler) HandlePendingList(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeView(w, r, moderation.PermissionViewPending) {
		return
	}
	pending := h.svc.ListPending()
	views := make([]PendingView, 0, len(pending))
	for _, p := range pending {
		views = append(views, pendingView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "pending": views})
}

// TipResponse describes the current end of the ledger chain.
type TipResponse struct {
	Tip      *string `json:"tip"`
	Approved int     `json:"approved"`
	Entries  int     `json:"entries"`
}

// HandleTip returns the ledger tip hash and the approved count.
func (h *Handler) HandleTip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TipResponse{
		Tip:      h.svc.Tip(),
		Approved: h.svc.ApprovedCount(),
		Entries:  h.svc.LedgerEntries(),
	})
}

// ModerateRequest is the JSON body of a moderation decision.
type ModerateRequest struct {
	ID        string `json:"id" validate:"required"`
	Action    string `json:"action" validate:"required"`
	Moderator string `json:"moderator" validate:"required"`
}

func (req ModerateRequest) decision() moderation.Decision {
	return moderation.Decision{ID: req.ID, Action: moderation.Action(req.Action), Moderator: req.Moderator}
}

// HandleModerate applies a decision to the report it names.
func (h *Handler) HandleModerate(w http.ResponseWriter, r *http.Request) {
	var req ModerateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	out, err := h.svc.Moderate(r.Context(), req.decision())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleModerateHead applies a decision only when it names the oldest
// pending report.
func (h *Handler) HandleModerateHead(w http.ResponseWriter, r *http.Request) {
	var req ModerateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	out, err := h.svc.ModerateHead(r.Context(), req.decision())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// HandleAudit returns recent moderation decisions, newest first.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeView(w, r, moderation.PermissionViewAuditLog) {
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.svc.Audit(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []moderation.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "decisions": entries})
}

// HandleHealthz reports liveness along with queue and ledger sizes.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": h.svc.PendingCount(),
		"entries": h.svc.LedgerEntries(),
	})
}
