package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/timothyplummer/talesofvalor/pkg/artifacts"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/engine"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteBadRequest(w, r, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		WriteBadRequest(w, r, "Invalid "+name)
		return 0, false
	}
	return id, true
}

type resultResponse struct {
	*engine.Result
	AuditWarning string `json:"audit_warning,omitempty"`
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, status int, res *engine.Result, err error) {
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	out := resultResponse{Result: res}
	if res.AuditError != nil {
		out.AuditWarning = "change committed but its log entry was not written"
	}
	writeJSON(w, status, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalogHeaders(w http.ResponseWriter, _ *http.Request) {
	headers := make([]catalog.Header, 0)
	for _, h := range s.svc.Catalog().Headers() {
		if !h.Hidden {
			headers = append(headers, h)
		}
	}
	writeJSON(w, http.StatusOK, headers)
}

type catalogSkill struct {
	catalog.Skill
	Cost         int `json:"cost"`
	MaxPurchases int `json:"max_purchases,omitempty"`
}

func (s *Server) handleCatalogSkills(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cat := s.svc.Catalog()
	h, found := cat.Header(catalog.HeaderID(id))
	if !found || h.Hidden {
		WriteNotFound(w, r, "Unknown header")
		return
	}
	out := make([]catalogSkill, 0)
	for _, sk := range cat.SkillsOf(h.ID) {
		offer, _ := cat.Offering(h.ID, sk.ID)
		out = append(out, catalogSkill{Skill: sk, Cost: offer.Cost, MaxPurchases: offer.MaxPurchases})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCatalogOrigins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Catalog().Origins())
}

type createPlayerRequest struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	CPAvailable int    `json:"cp_available"`
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req createPlayerRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteBadRequest(w, r, "Missing required field: name")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	p := &ledger.Player{ID: req.ID, UserID: req.UserID, Name: catalog.NormalizeName(req.Name), CPAvailable: req.CPAvailable}
	if err := s.svc.CreatePlayer(r.Context(), p); err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type createCharacterRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteBadRequest(w, r, "Missing required field: name")
		return
	}
	if req.PlayerID == "" {
		if a, err := auth.ActorFrom(r.Context()); err == nil {
			req.PlayerID = a.PlayerID
		}
	}
	if req.PlayerID == "" {
		WriteBadRequest(w, r, "Missing required field: player_id")
		return
	}
	res, err := s.svc.CreateCharacter(r.Context(), req.PlayerID, req.Name)
	s.writeResult(w, r, http.StatusCreated, res, err)
}

func (s *Server) handleCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Character(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SetActive(r.Context(), r.PathValue("id"))
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, err := ledger.ParseStatus(req.Status)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	res, err := s.svc.SetStatus(r.Context(), r.PathValue("id"), status)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.svc.Options(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// resolveTarget reads a header or skill by id or by name.
func (s *Server) resolveTarget(kind rules.TargetKind, value string) (rules.TargetRef, bool) {
	cat := s.svc.Catalog()
	id, err := strconv.ParseInt(value, 10, 64)
	switch kind {
	case rules.KindHeader:
		if err == nil {
			return rules.HeaderTarget(catalog.HeaderID(id)), true
		}
		h, ok := cat.HeaderByName(value)
		return rules.HeaderTarget(h.ID), ok
	case rules.KindSkill:
		if err == nil {
			return rules.SkillTarget(catalog.SkillID(id)), true
		}
		sk, ok := cat.SkillByName(value)
		return rules.SkillTarget(sk.ID), ok
	}
	return rules.TargetRef{}, false
}

func (s *Server) resolveHeader(value string) (catalog.HeaderID, bool) {
	if value == "" {
		return 0, true
	}
	t, ok := s.resolveTarget(rules.KindHeader, value)
	return t.HeaderID(), ok
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := rules.ParseTargetKind(q.Get("kind"))
	if err != nil {
		WriteBadRequest(w, r, "kind must be header or skill")
		return
	}
	target, ok := s.resolveTarget(kind, q.Get("target"))
	if !ok {
		WriteNotFound(w, r, "Unknown target "+q.Get("target"))
		return
	}
	header, ok := s.resolveHeader(q.Get("header"))
	if !ok {
		WriteNotFound(w, r, "Unknown header "+q.Get("header"))
		return
	}
	d, err := s.svc.CanAcquire(r.Context(), r.PathValue("id"), target, header)
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type purchaseRequest struct {
	HeaderID catalog.HeaderID `json:"header_id"`
	SkillID  catalog.SkillID  `json:"skill_id,omitempty"`
}

func (s *Server) handlePurchaseHeader(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.PurchaseHeader(r.Context(), r.PathValue("id"), req.HeaderID)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handlePurchaseSkill(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SkillID == 0 || req.HeaderID == 0 {
		WriteBadRequest(w, r, "Missing required fields: skill_id, header_id")
		return
	}
	res, err := s.svc.PurchaseSkill(r.Context(), r.PathValue("id"), req.SkillID, req.HeaderID)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	avail, err := s.svc.Grants(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

type issueGrantRequest struct {
	Kind           grants.Kind      `json:"kind"`
	TargetID       int64            `json:"target_id"`
	HeaderID       catalog.HeaderID `json:"header_id,omitempty"`
	Reason         string           `json:"reason"`
	PicksRemaining int              `json:"picks_remaining,omitempty"`
	Free           *bool            `json:"free,omitempty"`
}

func (s *Server) handleIssueGrant(w http.ResponseWriter, r *http.Request) {
	var req issueGrantRequest
	if !decode(w, r, &req) {
		return
	}
	g := grants.New(r.PathValue("id"), req.Kind, req.TargetID, req.Reason)
	g.HeaderID = req.HeaderID
	if req.PicksRemaining > 0 {
		g.PicksRemaining = req.PicksRemaining
	}
	if req.Free != nil {
		g.Free = *req.Free
	}
	res, err := s.svc.IssueGrant(r.Context(), g)
	s.writeResult(w, r, http.StatusCreated, res, err)
}

func (s *Server) handleExerciseGrant(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := s.svc.ExerciseGrant(r.Context(), r.PathValue("id"), r.PathValue("grant"), req.HeaderID)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAssignOrigin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginID catalog.OriginID `json:"origin_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.AssignOrigin(r.Context(), r.PathValue("id"), req.OriginID)
	s.writeResult(w, r, http.StatusOK, res, err)
}

type pointsRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.AwardPoints(r.Context(), r.PathValue("id"), req.Amount, req.Reason)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.TransferPoints(r.Context(), r.PathValue("id"), req.Amount)
	s.writeResult(w, r, http.StatusOK, res, err)
}

type overrideRequest struct {
	Kind     rules.TargetKind `json:"kind"`
	TargetID int64            `json:"target_id"`
	HeaderID catalog.HeaderID `json:"header_id,omitempty"`
	Reason   string           `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		WriteBadRequest(w, r, "Missing required field: reason")
		return
	}
	target := rules.TargetRef{Kind: req.Kind, ID: req.TargetID}
	if err := target.Validate(); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	res, err := s.svc.Override(r.Context(), r.PathValue("id"), target, req.HeaderID, req.Reason)
	s.writeResult(w, r, http.StatusOK, res, err)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Log(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type exportResponse struct {
	CharacterID string `json:"character_id"`
	Digest      string `json:"digest"`
	Size        int    `json:"size"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil || s.artifacts == nil {
		WriteError(w, r, http.StatusNotImplemented, "Exports are not configured")
		return
	}
	id := r.PathValue("id")
	// Access check.
	if _, err := s.svc.Character(r.Context(), id); err != nil {
		WriteEngineError(w, r, s.logger, err)
		return
	}
	pack, checksum, err := s.exporter.Pack(r.Context(), id)
	if err != nil {
		WriteInternal(w, r, s.logger, err)
		return
	}
	digest, err := s.artifacts.Put(r.Context(), pack)
	if err != nil {
		WriteInternal(w, r, s.logger, err)
		return
	}
	if digest != checksum {
		WriteInternal(w, r, s.logger, errors.New("export digest mismatch"))
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{CharacterID: id, Digest: digest, Size: len(pack)})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	a, err := auth.ActorFrom(r.Context())
	if err != nil || !a.IsStaff() {
		WriteForbidden(w, r, "")
		return
	}
	if s.artifacts == nil {
		WriteError(w, r, http.StatusNotImplemented, "Exports are not configured")
		return
	}
	data, err := s.artifacts.Get(r.Context(), r.PathValue("digest"))
	switch {
	case errors.Is(err, artifacts.ErrInvalidDigest):
		WriteBadRequest(w, r, err.Error())
		return
	case errors.Is(err, artifacts.ErrNotFound):
		WriteNotFound(w, r, "Unknown export")
		return
	case err != nil:
		WriteInternal(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
