package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tombdbad/sw5e-campaign-server/internal/db"
	"github.com/tombdbad/sw5e-campaign-server/internal/debrief"
	"github.com/tombdbad/sw5e-campaign-server/internal/dice"
	"github.com/tombdbad/sw5e-campaign-server/internal/game"
	"github.com/tombdbad/sw5e-campaign-server/internal/gm"
	mw "github.com/tombdbad/sw5e-campaign-server/internal/middleware"
	"github.com/tombdbad/sw5e-campaign-server/internal/validation"
	"github.com/tombdbad/sw5e-campaign-server/internal/worldmap"
)

// Server handles HTTP requests. Each session gets its own stores; the
// sessions map is the only shared state.
type Server struct {
	router      chi.Router
	db          *db.DB
	gmClient    *gm.Client
	sessions    map[string]*game.Session
	sessionsMu  sync.RWMutex
	rateLimiter *mw.RateLimiter
	syncQueue   *db.SyncQueue
}

// NewServer creates a new API server. database may be nil for in-memory
// operation; gmClient may be nil or unconfigured.
func NewServer(database *db.DB, gmClient *gm.Client) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		db:          database,
		gmClient:    gmClient,
		sessions:    make(map[string]*game.Session),
		rateLimiter: mw.NewRateLimiter(100, 20),
		syncQueue:   db.NewSyncQueue(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(mw.SecurityHeadersMiddleware)
	s.router.Use(mw.MaxBodySizeMiddleware(1024 * 1024)) // 1MB max

	// Public endpoint (no auth required)
	s.router.Post("/api/auth/login", s.login)

	// Protected endpoints (auth required)
	s.router.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware)

		r.Post("/api/sessions", s.createSession)
		r.Get("/api/sessions", s.listSessions)
		r.Get("/api/sessions/{id}", s.getSession)
		r.Post("/api/sessions/{id}/save", s.saveSession)
		r.Post("/api/sessions/{id}/load", s.loadSession)
		r.Post("/api/sessions/{id}/roll", s.roll)

		r.Post("/api/sessions/{id}/characters", s.createCharacter)
		r.Get("/api/sessions/{id}/characters", s.listCharacters)
		r.Get("/api/sessions/{id}/characters/{characterID}", s.getCharacter)
		r.Put("/api/sessions/{id}/characters/{characterID}", s.updateCharacter)
		r.Delete("/api/sessions/{id}/characters/{characterID}", s.deleteCharacter)

		r.Post("/api/sessions/{id}/campaigns", s.createCampaign)
		r.Get("/api/sessions/{id}/campaigns", s.listCampaigns)
		r.Get("/api/sessions/{id}/campaigns/{campaignID}", s.getCampaign)
		r.Delete("/api/sessions/{id}/campaigns/{campaignID}", s.deleteCampaign)
		r.Post("/api/sessions/{id}/campaigns/{campaignID}/locations", s.upsertLocation)
		r.Get("/api/sessions/{id}/campaigns/{campaignID}/locations/{locationID}/nearby", s.nearbyFeatures)
		r.Post("/api/sessions/{id}/campaigns/{campaignID}/current-location", s.setCurrentLocation)
		r.Post("/api/sessions/{id}/campaigns/{campaignID}/quests/refresh", s.refreshQuests)

		r.Post("/api/sessions/{id}/debriefs", s.createDebrief)
		r.Get("/api/sessions/{id}/debriefs", s.listDebriefs)
		r.Get("/api/sessions/{id}/debriefs/{debriefID}", s.getDebrief)
		r.Post("/api/sessions/{id}/debriefs/{debriefID}/response", s.submitResponse)
		r.Post("/api/sessions/{id}/debriefs/{debriefID}/auto", s.autoRespond)

		r.Post("/api/sessions/{id}/combat/start", s.startCombat)
		r.Get("/api/sessions/{id}/combat", s.getCombat)
		r.Post("/api/sessions/{id}/combat/attack", s.attack)
		r.Post("/api/sessions/{id}/combat/damage", s.applyDamage)
		r.Post("/api/sessions/{id}/combat/heal", s.heal)
		r.Post("/api/sessions/{id}/combat/next-turn", s.nextTurn)
		r.Post("/api/sessions/{id}/combat/end", s.endCombat)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response wraps API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// getSessionByID resolves and validates the session from the URL, handling
// ownership. Returns nil after writing the error response when anything is
// off.
func (s *Server) getSessionByID(w http.ResponseWriter, r *http.Request) *game.Session {
	sessionID := chi.URLParam(r, "id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return nil
	}
	if !s.checkSessionOwnership(w, r, sessionID) {
		return nil
	}

	s.sessionsMu.RLock()
	session, ok := s.sessions[sessionID]
	s.sessionsMu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil
	}
	session.Touch()
	return session
}

// checkSessionOwnership verifies the user owns the session
func (s *Server) checkSessionOwnership(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	userID := mw.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user ID")
		return false
	}
	if s.db == nil {
		return true
	}

	owner, err := s.db.GetSessionOwner(r.Context(), sessionID)
	if err != nil || owner != userID {
		writeError(w, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

// characterCommit returns the commit hook persisting character mutations
// for one session, or nil in in-memory mode
func (s *Server) characterCommit(sessionID string) game.CommitFunc {
	if s.db == nil {
		return nil
	}
	return func(ctx context.Context, c *game.Character) error {
		return s.db.SaveCharacter(ctx, sessionID, c)
	}
}

// login issues a token for a user id. Development convenience: real
// deployments front this with an identity provider.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateEntityID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	token, err := mw.IssueToken(req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"token": token},
	})
}

// createSession creates a new session with empty stores
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user ID")
		return
	}

	sessionID := uuid.New().String()
	session := game.NewSession(sessionID)

	s.sessionsMu.Lock()
	s.sessions[sessionID] = session
	s.sessionsMu.Unlock()

	if s.db != nil {
		if err := s.db.SaveSessionOwnership(r.Context(), sessionID, userID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}
	}

	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    session.Info(),
	})
}

// listSessions lists all sessions owned by the user
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user ID")
		return
	}

	if s.db == nil {
		s.sessionsMu.RLock()
		ids := make([]string, 0, len(s.sessions))
		for id := range s.sessions {
			ids = append(ids, id)
		}
		s.sessionsMu.RUnlock()
		writeJSON(w, http.StatusOK, Response{Success: true, Data: ids})
		return
	}

	ids, err := s.db.GetUserSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: ids})
}

// getSession returns session info
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: session.Info()})
}

// saveSession persists all characters and campaigns and flushes the sync
// log
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Persistence not configured")
		return
	}

	for _, c := range session.Characters.List() {
		if err := s.db.SaveCharacter(r.Context(), session.ID, c); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save session")
			return
		}
	}
	for _, c := range session.Campaigns.List() {
		if err := s.db.SaveCampaign(r.Context(), session.ID, c); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save session")
			return
		}
	}
	if err := s.syncQueue.Flush(r.Context(), s.db); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: "Session saved"})
}

// loadSession imports persisted characters and campaigns into the session
// stores. When a local copy exists, the higher version wins.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Persistence not configured")
		return
	}

	characters, err := s.db.LoadCharacters(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	for _, imported := range characters {
		if local, ok := session.Characters.Get(imported.ID); ok {
			imported = game.ResolveConflict(local, imported)
		}
		session.Characters.Create(imported)
	}

	campaigns, err := s.db.LoadCampaigns(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	for _, imported := range campaigns {
		if local, ok := session.Campaigns.Get(imported.ID); ok && local.Version >= imported.Version {
			continue
		}
		session.Campaigns.Create(imported)
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: session.Info()})
}

// roll rolls a dice formula
func (s *Server) roll(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		Formula  string `json:"formula"`
		Critical bool   `json:"critical"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := dice.NewRoller(0).RollFormula(req.Formula, req.Critical)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dice formula")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// createCharacter creates a character in the session store
func (s *Server) createCharacter(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var c game.Character
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateName(c.Name); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character name")
		return
	}
	if c.Abilities == (game.AbilityScores{}) {
		c.Abilities = game.DefaultAbilityScores()
	}

	// Server assigns identity
	c.ID = ""
	created := session.Characters.Create(&c)

	s.syncQueue.Enqueue(&db.SyncOp{
		SessionID:  session.ID,
		EntityType: "character",
		EntityID:   created.ID,
		Action:     db.ActionUpsert,
	})
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: created})
}

// listCharacters lists session characters
func (s *Server) listCharacters(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: session.Characters.List()})
}

// getCharacter returns one character with derived stats
func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	characterID := chi.URLParam(r, "characterID")
	if err := validation.ValidateEntityID(characterID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character ID")
		return
	}

	c, ok := session.Characters.Get(characterID)
	if !ok {
		writeError(w, http.StatusNotFound, "Character not found")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"character": c,
			"derived": map[string]interface{}{
				"proficiency_bonus": c.ProficiencyBonus(),
				"armor_class":       c.ArmorClass(),
				"initiative":        c.Initiative(),
			},
		},
	})
}

// updateCharacter applies a partial update through the optimistic mutation
// path
func (s *Server) updateCharacter(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	characterID := chi.URLParam(r, "characterID")
	if err := validation.ValidateEntityID(characterID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character ID")
		return
	}

	var req struct {
		Name        *string             `json:"name"`
		Level       *int                `json:"level"`
		Abilities   *game.AbilityScores `json:"abilities"`
		CurrentHP   *int                `json:"current_hp"`
		MaxHP       *int                `json:"max_hp"`
		ForcePoints *int                `json:"force_points"`
		Equipment   []game.Item         `json:"equipment"`
		Notes       *string             `json:"notes"`
		Backstory   *string             `json:"backstory"`
		Bonds       *string             `json:"bonds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Level != nil {
		if err := validation.ValidateLevel(*req.Level); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid level")
			return
		}
	}

	mutation, err := session.Characters.Apply(characterID, func(c *game.Character) {
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Level != nil {
			c.Level = *req.Level
		}
		if req.Abilities != nil {
			c.Abilities = *req.Abilities
		}
		if req.CurrentHP != nil {
			c.CurrentHP = *req.CurrentHP
		}
		if req.MaxHP != nil {
			c.MaxHP = *req.MaxHP
		}
		if req.ForcePoints != nil {
			c.ForcePoints = *req.ForcePoints
		}
		if req.Equipment != nil {
			c.Equipment = req.Equipment
		}
		if req.Notes != nil {
			c.Notes = *req.Notes
		}
		if req.Backstory != nil {
			c.Backstory = *req.Backstory
		}
		if req.Bonds != nil {
			c.Bonds = *req.Bonds
		}
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "Character not found")
		return
	}

	if err := mutation.Commit(r.Context(), s.characterCommit(session.ID)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save character")
		return
	}

	c, _ := session.Characters.Get(characterID)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: c})
}

// deleteCharacter removes a character
func (s *Server) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	characterID := chi.URLParam(r, "characterID")
	if err := validation.ValidateEntityID(characterID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character ID")
		return
	}

	if !session.Characters.Delete(characterID) {
		writeError(w, http.StatusNotFound, "Character not found")
		return
	}
	if s.db != nil {
		if err := s.db.DeleteCharacter(r.Context(), characterID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to delete character")
			return
		}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: "Character deleted"})
}

// createCampaign creates a campaign
func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var c game.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateName(c.Name); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign name")
		return
	}

	c.ID = ""
	created := session.Campaigns.Create(&c)

	s.syncQueue.Enqueue(&db.SyncOp{
		SessionID:  session.ID,
		EntityType: "campaign",
		EntityID:   created.ID,
		Action:     db.ActionUpsert,
	})
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: created})
}

// listCampaigns lists session campaigns
func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: session.Campaigns.List()})
}

// getCampaign returns one campaign
func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	c, ok := session.Campaigns.Get(campaignID)
	if !ok {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: c})
}

// deleteCampaign removes a campaign
func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	if !session.Campaigns.Delete(campaignID) {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if s.db != nil {
		if err := s.db.DeleteCampaign(r.Context(), campaignID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to delete campaign")
			return
		}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: "Campaign deleted"})
}

// upsertLocation adds or updates a location, merging map data
func (s *Server) upsertLocation(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	var loc game.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stored, created, err := session.Campaigns.UpsertLocation(campaignID, loc)
	if err != nil {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, Response{Success: true, Data: stored})
}

// nearbyFeatures returns map features within a radius of a point
func (s *Server) nearbyFeatures(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	locationID := chi.URLParam(r, "locationID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}
	if err := validation.ValidateEntityID(locationID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid location ID")
		return
	}

	loc, ok := session.Campaigns.GetLocation(campaignID, locationID)
	if !ok {
		writeError(w, http.StatusNotFound, "Location not found")
		return
	}
	if loc.MapData == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Data: []worldmap.MapFeature{}})
		return
	}

	q := r.URL.Query()
	x, _ := strconv.ParseFloat(q.Get("x"), 64)
	y, _ := strconv.ParseFloat(q.Get("y"), 64)
	z, _ := strconv.ParseFloat(q.Get("z"), 64)
	radius, err := strconv.ParseFloat(q.Get("radius"), 64)
	if err != nil || radius <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid radius")
		return
	}

	features := loc.MapData.FeaturesNear(worldmap.Position{X: x, Y: y, Z: z}, radius)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: features})
}

// setCurrentLocation moves the campaign's current-location pointer
func (s *Server) setCurrentLocation(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	var req struct {
		LocationID string `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateEntityID(req.LocationID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid location ID")
		return
	}

	if err := session.Campaigns.SetCurrentLocation(campaignID, req.LocationID); err != nil {
		writeError(w, http.StatusNotFound, "Location not found")
		return
	}

	// Moving may satisfy quest activation conditions
	activated, _ := session.RefreshQuests(campaignID)
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]interface{}{"activated_quests": activated},
	})
}

// refreshQuests re-evaluates the quest chain for a campaign
func (s *Server) refreshQuests(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := validation.ValidateEntityID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	activated, err := session.RefreshQuests(campaignID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]interface{}{"activated_quests": activated},
	})
}

// createDebrief compiles a debrief envelope for a GM exchange
func (s *Server) createDebrief(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		CharacterID string         `json:"character_id"`
		CampaignID  string         `json:"campaign_id"`
		Config      debrief.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateEntityID(req.CharacterID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character ID")
		return
	}
	if err := validation.ValidateEntityID(req.CampaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}
	if !debrief.ValidRequestType(req.Config.RequestType) {
		writeError(w, http.StatusBadRequest, "Invalid request type")
		return
	}

	compiler := s.newCompiler(session)
	envelope, err := compiler.Compile(r.Context(), session.ID, req.CharacterID, req.CampaignID, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create debrief")
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: envelope})
}

// listDebriefs lists stored debrief ids for the session
func (s *Server) listDebriefs(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Persistence not configured")
		return
	}

	ids, err := s.db.ListDebriefs(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debriefs")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: ids})
}

// getDebrief returns one stored envelope
func (s *Server) getDebrief(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Persistence not configured")
		return
	}

	debriefID := chi.URLParam(r, "debriefID")
	if err := validation.ValidateEntityID(debriefID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid debrief ID")
		return
	}

	envelope, err := s.db.GetDebrief(r.Context(), debriefID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Debrief not found")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: envelope})
}

// submitResponse reconciles a pasted GM response against the session state
func (s *Server) submitResponse(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	debriefID := chi.URLParam(r, "debriefID")
	if err := validation.ValidateEntityID(debriefID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid debrief ID")
		return
	}

	var req struct {
		CharacterID string `json:"character_id"`
		CampaignID  string `json:"campaign_id"`
		Text        string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateResponseText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid response text")
		return
	}

	result := s.reconcile(r, session, debriefID, req.CampaignID, req.CharacterID, req.Text)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// autoRespond sends the stored debrief prompt to the configured GM client
// and reconciles the reply
func (s *Server) autoRespond(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	if s.gmClient == nil || !s.gmClient.Configured() {
		writeError(w, http.StatusServiceUnavailable, "GM client not configured")
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Persistence not configured")
		return
	}

	debriefID := chi.URLParam(r, "debriefID")
	if err := validation.ValidateEntityID(debriefID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid debrief ID")
		return
	}

	var req struct {
		CharacterID string `json:"character_id"`
		CampaignID  string `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	envelope, err := s.db.GetDebrief(r.Context(), debriefID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Debrief not found")
		return
	}

	text, err := s.gmClient.Complete(r.Context(), envelope.Prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, "GM request failed")
		return
	}

	result := s.reconcile(r, session, debriefID, req.CampaignID, req.CharacterID, text)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// reconcile runs the response pipeline and records the result
func (s *Server) reconcile(r *http.Request, session *game.Session, debriefID, campaignID, characterID, text string) *debrief.Result {
	reconciler := &debrief.Reconciler{
		Characters: session.Characters,
		Campaigns:  session.Campaigns,
		Commit:     s.characterCommit(session.ID),
	}
	result := reconciler.Reconcile(r.Context(), campaignID, characterID, text)

	if campaignID != "" {
		// New state may unlock chained quests
		session.RefreshQuests(campaignID)
		s.syncQueue.Enqueue(&db.SyncOp{
			SessionID:  session.ID,
			EntityType: "campaign",
			EntityID:   campaignID,
			Action:     db.ActionUpsert,
		})
	}
	if s.db != nil {
		s.db.SetDebriefResponse(r.Context(), debriefID, result)
	}
	return result
}

func (s *Server) newCompiler(session *game.Session) *debrief.Compiler {
	compiler := &debrief.Compiler{
		Characters: session.Characters,
		Campaigns:  session.Campaigns,
		Bus:        session.Bus,
	}
	if s.db != nil {
		compiler.Store = s.db
	}
	return compiler
}

// startCombat builds combatants from a character and campaign NPCs and
// rolls initiative
func (s *Server) startCombat(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		CharacterID string   `json:"character_id"`
		CampaignID  string   `json:"campaign_id"`
		NPCIDs      []string `json:"npc_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateEntityID(req.CharacterID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid character ID")
		return
	}

	c, ok := session.Characters.Get(req.CharacterID)
	if !ok {
		writeError(w, http.StatusNotFound, "Character not found")
		return
	}

	combatants := []game.Combatant{playerCombatant(c)}
	for _, npcID := range req.NPCIDs {
		npc, ok := session.Campaigns.GetNPC(req.CampaignID, npcID)
		if !ok {
			writeError(w, http.StatusNotFound, "NPC not found")
			return
		}
		combatants = append(combatants, npcCombatant(npc))
	}

	if err := session.Combat.Start(combatants); err != nil {
		writeError(w, http.StatusConflict, "Combat already active")
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: combatView(session)})
}

// getCombat returns the current combat state
func (s *Server) getCombat(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: combatView(session)})
}

// attack resolves one attack
func (s *Server) attack(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		AttackerID string `json:"attacker_id"`
		TargetID   string `json:"target_id"`
		Mode       string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mode, err := parseRollMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid roll mode")
		return
	}

	result, err := session.Combat.Attack(req.AttackerID, req.TargetID, mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to resolve attack")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}

// applyDamage applies flat damage to a combatant
func (s *Server) applyDamage(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		CombatantID string `json:"combatant_id"`
		Amount      int    `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateHPDelta(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	outcome, err := session.Combat.ApplyDamage(req.CombatantID, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to apply damage")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]interface{}{"outcome": outcome, "combat": combatView(session)},
	})
}

// heal restores hit points to a combatant
func (s *Server) heal(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	var req struct {
		CombatantID string `json:"combatant_id"`
		Amount      int    `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateHPDelta(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	if err := session.Combat.Heal(req.CombatantID, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to heal")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: combatView(session)})
}

// nextTurn advances the turn order
func (s *Server) nextTurn(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	turn, round, err := session.Combat.NextTurn()
	if err != nil {
		writeError(w, http.StatusConflict, "No active combat")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]interface{}{"turn": turn, "round": round},
	})
}

// endCombat ends the encounter without an outcome
func (s *Server) endCombat(w http.ResponseWriter, r *http.Request) {
	session := s.getSessionByID(w, r)
	if session == nil {
		return
	}

	session.Combat.End()
	writeJSON(w, http.StatusOK, Response{Success: true, Data: "Combat ended"})
}

func combatView(session *game.Session) map[string]interface{} {
	return map[string]interface{}{
		"state":      session.Combat.State(),
		"round":      session.Combat.Round(),
		"turn":       session.Combat.CurrentTurn(),
		"combatants": session.Combat.Combatants(),
	}
}

var errInvalidMode = errors.New("invalid roll mode")

func parseRollMode(mode string) (dice.RollMode, error) {
	switch mode {
	case "", "normal":
		return dice.ModeNormal, nil
	case "advantage":
		return dice.ModeAdvantage, nil
	case "disadvantage":
		return dice.ModeDisadvantage, nil
	}
	return dice.ModeNormal, errInvalidMode
}

// playerCombatant derives combat stats from a character sheet
func playerCombatant(c *game.Character) game.Combatant {
	attackMod := game.Modifier(c.Abilities.Strength) + c.ProficiencyBonus()
	damage := "1d6"
	for _, item := range c.Equipment {
		if item.Equipped && item.Damage != "" {
			damage = item.Damage
			break
		}
	}

	abilities := c.Abilities
	return game.Combatant{
		ID:             c.ID,
		Name:           c.Name,
		HP:             c.CurrentHP,
		MaxHP:          c.MaxHP,
		ArmorClass:     c.ArmorClass(),
		InitiativeMod:  c.Initiative(),
		IsPlayer:       true,
		Abilities:      &abilities,
		AttackModifier: attackMod,
		DamageFormula:  damage,
	}
}

// npcCombatant derives combat stats from an NPC, preferring its stat block
func npcCombatant(npc game.NPC) game.Combatant {
	combatant := game.Combatant{
		ID:            npc.ID,
		Name:          npc.Name,
		HP:            10,
		MaxHP:         10,
		ArmorClass:    10,
		DamageFormula: "1d6",
	}
	if npc.Abilities != nil {
		abilities := *npc.Abilities
		combatant.Abilities = &abilities
		combatant.InitiativeMod = game.Modifier(abilities.Dexterity)
		combatant.AttackModifier = game.Modifier(abilities.Strength) + 2
	}
	if npc.StatBlock != nil {
		combatant.HP = npc.StatBlock.HitPoints
		combatant.MaxHP = npc.StatBlock.HitPoints
		combatant.ArmorClass = npc.StatBlock.ArmorClass
	}
	return combatant
}
