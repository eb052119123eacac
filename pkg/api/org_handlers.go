package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/gate"
	"github.com/betterorg/betterorg/pkg/httputil"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
)

// OrgHandlers implements organization listing, creation and membership
// operations
type OrgHandlers struct {
	gate    *gate.Gate
	orgs    *orgs.PostgresService
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewOrgHandlers creates new organization handlers
func NewOrgHandlers(g *gate.Gate, orgService *orgs.PostgresService, logger *observability.Logger, metrics *observability.Metrics) *OrgHandlers {
	return &OrgHandlers{
		gate:    g,
		orgs:    orgService,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.listOrganizations).Methods("GET")
	router.HandleFunc("/orgs", h.createOrganization).Methods("POST")
	router.HandleFunc("/orgs/{id}", h.getOrganization).Methods("GET")
	router.HandleFunc("/orgs/{id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/orgs/{id}/invitations", h.createInvitation).Methods("POST")
	router.HandleFunc("/orgs/{id}/invitations", h.listInvitations).Methods("GET")
	router.HandleFunc("/invitations/accept", h.acceptInvitation).Methods("POST")
}

func (h *OrgHandlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	organizations, err := h.gate.ListAccessibleOrganizations(r.Context(), identity)
	if err != nil {
		if errors.Is(err, gate.ErrUnauthenticated) {
			httputil.Redirect(w, r, "/login")
			return
		}
		h.logger.WithError(err).Error("failed to list organizations")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"organizations": organizations})
}

func (h *OrgHandlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.Redirect(w, r, "/login")
		return
	}

	var req orgs.CreateOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if fieldErrors := req.Validate(); len(fieldErrors) > 0 {
		httputil.WriteFieldErrors(w, fieldErrors)
		return
	}

	org, err := h.orgs.CreateOrganization(r.Context(), identity.UserID, &req)
	if err != nil {
		if errors.Is(err, orgs.ErrSlugTaken) {
			httputil.WriteJSON(w, http.StatusConflict, httputil.FieldErrorResponse{
				Error:       "conflict",
				FieldErrors: map[string]string{"slug": "this URL is already taken"},
			})
			return
		}
		h.logger.WithError(err).Error("failed to create organization")
		httputil.WriteInternalError(w, err)
		return
	}

	h.metrics.OrganizationsCreated.Inc()
	h.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"user_id":         identity.UserID,
	}).Info("organization created")
	httputil.WriteCreated(w, org)
}

func (h *OrgHandlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	view, err := h.gate.AuthorizeOrganizationView(r.Context(), identity, orgID)
	if err != nil {
		h.redirectOrFail(w, r, err, "failed to load organization")
		return
	}

	httputil.WriteSuccess(w, view)
}

func (h *OrgHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireMembership(w, r, identity, orgID); !ok {
		return
	}

	members, err := h.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list members")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

type createInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *OrgHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	inviter, ok := h.requireMembership(w, r, identity, orgID)
	if !ok {
		return
	}
	if !inviter.Role.CanInvite() {
		httputil.WriteForbidden(w, "your role does not allow inviting members")
		return
	}

	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := orgs.Role(req.Role)
	if req.Role == "" {
		role = orgs.RoleMember
	}
	if !role.Valid() {
		httputil.WriteFieldErrors(w, map[string]string{"role": "unknown role"})
		return
	}
	// Only owners may grant the owner role
	if role == orgs.RoleOwner && inviter.Role != orgs.RoleOwner {
		httputil.WriteForbidden(w, "only owners can invite owners")
		return
	}

	invitation, err := h.orgs.CreateInvitation(r.Context(), orgID, req.Email, role)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		h.logger.WithError(err).Error("failed to create invitation")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, invitation)
}

func (h *OrgHandlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireMembership(w, r, identity, orgID); !ok {
		return
	}

	invitations, err := h.orgs.ListInvitations(r.Context(), orgID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list invitations")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"invitations": invitations})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (h *OrgHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.Redirect(w, r, "/login")
		return
	}

	var req acceptInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.orgs.AcceptInvitation(r.Context(), req.Token, identity.UserID, identity.Email)
	if err != nil {
		if errors.Is(err, orgs.ErrInvitationInvalid) {
			httputil.WriteFieldErrors(w, map[string]string{
				"token": "invalid or expired invitation",
			})
			return
		}
		h.logger.WithError(err).Error("failed to accept invitation")
		httputil.WriteInternalError(w, err)
		return
	}

	h.gate.InvalidateOrganization(member.OrganizationID)
	httputil.WriteSuccess(w, member)
}

// requireMembership gates member-only operations, sending non-members to
// onboarding like any other inaccessible organization. Returns the caller's
// membership so handlers can apply role checks.
func (h *OrgHandlers) requireMembership(w http.ResponseWriter, r *http.Request, identity *auth.Identity, orgID string) (*orgs.Member, bool) {
	if identity == nil {
		httputil.Redirect(w, r, "/login")
		return nil, false
	}

	member, err := h.orgs.GetMember(r.Context(), orgID, identity.UserID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			httputil.Redirect(w, r, "/onboarding")
			return nil, false
		}
		h.logger.WithError(err).Error("failed to check membership")
		httputil.WriteInternalError(w, err)
		return nil, false
	}

	return member, true
}

func (h *OrgHandlers) redirectOrFail(w http.ResponseWriter, r *http.Request, err error, logMessage string) {
	switch {
	case errors.Is(err, gate.ErrUnauthenticated):
		httputil.Redirect(w, r, "/login")
	case errors.Is(err, gate.ErrAccessDenied):
		httputil.Redirect(w, r, "/onboarding")
	default:
		h.logger.WithError(err).Error(logMessage)
		httputil.WriteInternalError(w, err)
	}
}
