package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sugreev38/v0-hospital-emr-software/internal/auth"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// collectionPermissions maps a collection to its view and edit permissions
var collectionPermissions = map[types.Collection]struct{ view, edit string }{
	types.CollectionPatients:       {types.PermViewPatients, types.PermEditPatients},
	types.CollectionMedicalRecords: {types.PermViewRecords, types.PermEditRecords},
	types.CollectionAppointments:   {types.PermViewAppointments, types.PermEditAppointments},
}

func requireCollection(o auth.Oracle, c types.Collection, edit bool) error {
	perms := collectionPermissions[c]
	perm, all := perms.view, types.PermViewAll
	if edit {
		perm, all = perms.edit, types.PermEditAll
	}
	if o.IsAuthenticated() && o.HasPermission(all) {
		return nil
	}
	return auth.Require(o, perm)
}

func requireAuthenticated(o auth.Oracle) error {
	if !o.IsAuthenticated() {
		return types.NewAuthenticationError(types.ErrCodeAuthenticationFailed, "authentication required")
	}
	return nil
}

func requireAdmin(o auth.Oracle) error {
	if err := requireAuthenticated(o); err != nil {
		return err
	}
	if !o.HasRole(types.RoleAdmin) {
		return types.ErrUnauthorized
	}
	return nil
}

func collectionVar(r *http.Request) (types.Collection, error) {
	name := mux.Vars(r)["collection"]
	c, ok := types.ParseCollection(name)
	if !ok {
		return "", types.NewNotFoundError(types.ErrCodeNotFound, "unknown collection "+name)
	}
	return c, nil
}

// patientOf returns the patient an entity belongs to
func patientOf(e types.Entity) string {
	switch v := e.(type) {
	case *types.Patient:
		return v.ID
	case *types.MedicalRecord:
		return v.PatientID
	case *types.Appointment:
		return v.PatientID
	}
	return ""
}

func (s *Service) phiAccess(r *http.Request, patientID, action string, c types.Collection, err error) {
	principal := auth.PrincipalFrom(r.Context())
	s.logger.PHIAccess(r.Context(), principal.ID(), patientID, action, string(c), err == nil, nil)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// handleList returns a collection, optionally filtered by ?status=,
// ?patientId= or ?index=&value=
func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	c, err := collectionVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireCollection(auth.PrincipalFrom(r.Context()), c, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	var entities []types.Entity
	switch {
	case q.Get("status") != "":
		entities, err = s.store.ByStatus(r.Context(), c, q.Get("status"))
	case q.Get("patientId") != "":
		entities, err = s.store.GetByPatient(r.Context(), c, q.Get("patientId"))
		s.phiAccess(r, q.Get("patientId"), "list", c, err)
	case q.Get("index") != "":
		entities, err = s.store.GetByIndex(r.Context(), c, q.Get("index"), q.Get("value"))
	default:
		entities, err = s.store.GetAll(r.Context(), c)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entities == nil {
		entities = []types.Entity{}
	}

	s.writeJSON(w, r, http.StatusOK, entities)
}

// handlePatientCollection lists the records or appointments of one patient
func (s *Service) handlePatientCollection(w http.ResponseWriter, r *http.Request) {
	c, err := collectionVar(r)
	if err == nil && !c.HasPatientIndex() {
		err = types.NewNotFoundError(types.ErrCodeNotFound, "unknown collection "+string(c))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireCollection(auth.PrincipalFrom(r.Context()), c, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	patientID := mux.Vars(r)["id"]
	entities, err := s.store.GetByPatient(r.Context(), c, patientID)
	s.phiAccess(r, patientID, "list", c, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entities == nil {
		entities = []types.Entity{}
	}

	s.writeJSON(w, r, http.StatusOK, entities)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := collectionVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireCollection(auth.PrincipalFrom(r.Context()), c, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	e, found, err := s.store.GetByID(r.Context(), c, id)
	if err == nil && !found {
		err = types.NewNotFoundError(types.ErrCodeNotFound, string(c)+" "+id+" not found")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.phiAccess(r, patientOf(e), "read", c, nil)
	s.writeJSON(w, r, http.StatusOK, e)
}

// handleCreate stores a new entity. A body id is kept for client-generated
// ids but must not exist yet; replacing a record goes through PUT.
func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, "", true)
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, mux.Vars(r)["id"], false)
}

// save decodes the body into the collection's entity and writes it. A
// non-empty id overrides any id in the body.
func (s *Service) save(w http.ResponseWriter, r *http.Request, id string, create bool) {
	c, err := collectionVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireCollection(auth.PrincipalFrom(r.Context()), c, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := types.NewEntity(c.Kind())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := decodeBody(r, e); err != nil {
		s.writeError(w, r, err)
		return
	}
	if id != "" {
		e.Meta().ID = id
	}

	status := http.StatusOK
	if create {
		status = http.StatusCreated
		_, err = s.store.Create(r.Context(), e)
	} else {
		_, err = s.store.Save(r.Context(), e)
	}
	s.phiAccess(r, patientOf(e), "write", c, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, status, e)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, err := collectionVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireCollection(auth.PrincipalFrom(r.Context()), c, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	err = s.store.Delete(r.Context(), c, id)
	if c == types.CollectionPatients {
		s.phiAccess(r, id, "delete", c, err)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type syncStatusResponse struct {
	types.SyncStatusReport
	Online bool `json:"online"`
}

func (s *Service) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthenticated(auth.PrincipalFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, syncStatusResponse{SyncStatusReport: report, Online: s.monitor.IsOnline()})
}

func (s *Service) handleDrain(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthenticated(auth.PrincipalFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.engine.Drain(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Service) handleListQueue(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(auth.PrincipalFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	status := types.SyncStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, types.NewValidationError(types.ErrCodeInvalidInput, "invalid queue status", map[string]interface{}{
			"status": string(status),
		}))
		return
	}

	entries, err := s.queue.List(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.SyncQueueEntry{}
	}

	s.writeJSON(w, r, http.StatusOK, entries)
}

func (s *Service) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFrom(r.Context())
	if err := requireAdmin(principal); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.queue.RetryFailed(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Audit(principal.ID(), "retry_failed", "sync_queue", true, map[string]interface{}{"entries": n})
	s.writeJSON(w, r, http.StatusOK, map[string]int64{"requeued": n})
}

type connectivityState struct {
	Online *bool `json:"online"`
}

func (s *Service) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthenticated(auth.PrincipalFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	online := s.monitor.IsOnline()
	s.writeJSON(w, r, http.StatusOK, connectivityState{Online: &online})
}

// handleSetConnectivity applies a platform connectivity transition. Going
// online starts a drain through the engine's reconnect subscription.
func (s *Service) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthenticated(auth.PrincipalFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	var state connectivityState
	if err := decodeBody(r, &state); err != nil {
		s.writeError(w, r, err)
		return
	}
	if state.Online == nil {
		s.writeError(w, r, types.NewValidationError(types.ErrCodeInvalidInput, "online is required", nil))
		return
	}

	s.monitor.SetOnline(*state.Online)

	online := s.monitor.IsOnline()
	s.writeJSON(w, r, http.StatusOK, connectivityState{Online: &online})
}

func (s *Service) handleListUsers(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFrom(r.Context())
	if err := requireAuthenticated(principal); err != nil {
		s.writeError(w, r, err)
		return
	}

	users, err := s.directory.ListUsers(principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, users)
}

func (s *Service) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFrom(r.Context())
	if err := requireAuthenticated(principal); err != nil {
		s.writeError(w, r, err)
		return
	}

	var in auth.NewUser
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.directory.CreateUser(principal, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusCreated, user)
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes err as a MedrexError body with the matching status
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var me *types.MedrexError
	if !errors.As(err, &me) {
		me = types.NewInternalError(types.ErrCodeInternalError, "internal error", err)
	}

	status := statusFor(me.Type)
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).WithError(err).Error("Request failed")
	}

	s.writeJSON(w, r, status, me)
}

// statusFor maps error types to HTTP status codes
func statusFor(t types.ErrorType) int {
	switch t {
	case types.ErrorTypeValidation:
		return http.StatusBadRequest
	case types.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case types.ErrorTypeAuthorization:
		return http.StatusForbidden
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeStorageUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrorTypeRemoteApply:
		return http.StatusBadGateway
	case types.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case types.ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
